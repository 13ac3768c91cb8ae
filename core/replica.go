package core

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Replica is one copy of a CRDT instance on one process: the state vector,
// pending buffer, outbox, and folded value. It is single-threaded and
// synchronous by design — CRDT semantics are stated in terms of discrete
// apply events, so callers must serialize their own calls into a given
// Replica (the engine holds no locks and starts no goroutines).
type Replica[D Description] struct {
	info    CRDTInfo
	account *Account
	value   Applyable[D]

	// stateVector maps author key -> next-expected counter. Absent entry
	// means expected counter 0.
	stateVector map[string]uint32
	// pending maps author key -> counter -> buffered operation.
	pending map[string]map[uint32]Operation[D]
	// outbox maps counter -> locally-authored operation since last flush.
	outbox map[uint32]Operation[D]

	logger *logrus.Logger
}

// NewReplica creates a Replica from a CRDTInfo and an initial value, with
// empty state vector, pending buffer, and outbox. account may be nil for a
// read-only replica that only ever ingests remote operations; in that case
// ApplyDescription returns KeyMaterialMissing.
func NewReplica[D Description](info CRDTInfo, initial Applyable[D], account *Account, logger *logrus.Logger) *Replica[D] {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Replica[D]{
		info:        info,
		account:     account,
		value:       initial,
		stateVector: make(map[string]uint32),
		pending:     make(map[string]map[uint32]Operation[D]),
		outbox:      make(map[uint32]Operation[D]),
		logger:      logger,
	}
}

// Info returns the replica's CRDTInfo header.
func (r *Replica[D]) Info() CRDTInfo { return r.info }

// Value returns the current folded value.
func (r *Replica[D]) Value() Applyable[D] { return r.value }

// StateVectorOf returns the next-expected counter for pub (0 if never seen).
func (r *Replica[D]) StateVectorOf(pub UserPubKey) uint32 {
	return r.stateVector[pub.Key()]
}

// PendingCount returns the number of operations from pub currently buffered
// awaiting a predecessor.
func (r *Replica[D]) PendingCount(pub UserPubKey) int {
	return len(r.pending[pub.Key()])
}

// ApplyDescription packages desc into a signed Operation authored by this
// replica's Account, folds it in via Apply, and records it in the outbox.
// A failure of the self-apply is a programming error (it cannot happen for
// a well-formed local operation) and panics rather than returning an error.
func (r *Replica[D]) ApplyDescription(desc D) (Operation[D], error) {
	if r.account == nil {
		return Operation[D]{}, newError(KeyMaterialMissing, "replica: no account bound to author operations", nil)
	}

	counter := r.account.nextCounter
	t := time.Duration(time.Now().UnixNano())
	payload := signedPayload(counter, t, desc)
	sig := Sign(payload, r.account.secKey)

	op := Operation[D]{
		UserPubKey: r.account.pubKey,
		Signature:  sig,
		Counter:    counter,
		Time:       t,
		Contents:   desc,
	}
	r.account.nextCounter++

	if err := r.Apply(op); err != nil {
		panic(fmt.Sprintf("core: self-authored operation at counter %d failed to apply: %v", counter, err))
	}
	r.outbox[op.Counter] = op

	r.logger.WithFields(logrus.Fields{
		"author":  fmt.Sprintf("%x", []byte(op.UserPubKey)),
		"counter": op.Counter,
	}).Debug("authored operation")

	return op, nil
}

// Apply ingests a single operation, possibly from a remote peer, possibly
// out of order or duplicated. It verifies the signature, buffers the
// operation, then drains every contiguous run starting at the author's
// state vector into value.
//
// A bad signature leaves the replica untouched and returns a SignatureInvalid
// error. A duplicate at the same (author, counter) with a different
// signature keeps the first-seen entry and returns
// DuplicateAtDifferentSignature after completing the drain with that
// first-seen entry — it is surfaced as evidence, not a reason to stop.
func (r *Replica[D]) Apply(op Operation[D]) error {
	if !op.Verify() {
		r.logger.WithFields(logrus.Fields{
			"author":  fmt.Sprintf("%x", []byte(op.UserPubKey)),
			"counter": op.Counter,
		}).Warn("rejected operation: signature invalid")
		return newError(SignatureInvalid, "replica: apply", nil)
	}

	authorKey := op.UserPubKey.Key()

	bucket := r.pending[authorKey]
	if bucket == nil {
		bucket = make(map[uint32]Operation[D])
		r.pending[authorKey] = bucket
	}

	var dupErr error
	if existing, ok := bucket[op.Counter]; ok {
		if !sameSignature(existing, op) {
			dupErr = newError(DuplicateAtDifferentSignature,
				fmt.Sprintf("replica: author=%x counter=%d", []byte(op.UserPubKey), op.Counter), nil)
		}
		// First-seen wins regardless: bucket[op.Counter] stays as-is.
	} else {
		bucket[op.Counter] = op
	}

	counters := make([]uint32, 0, len(bucket))
	for c := range bucket {
		counters = append(counters, c)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i] < counters[j] })

	sv := r.stateVector[authorKey]
	leftover := make(map[uint32]Operation[D])
	for _, c := range counters {
		entry := bucket[c]
		switch {
		case c < sv:
			// Duplicate of an already-applied operation: discard.
		case c > sv:
			leftover[c] = entry
		default: // c == sv
			r.value = r.value.Fold(entry.Contents, entry.UserPubKey, sv)
			sv++
		}
	}

	if len(leftover) == 0 {
		delete(r.pending, authorKey)
	} else {
		r.pending[authorKey] = leftover
	}
	r.stateVector[authorKey] = sv

	// Replaying this replica's own persisted operations (e.g. on reopening a
	// project) advances the Account past them, so it never re-issues a
	// counter that is already folded in.
	if r.account != nil && authorKey == r.account.pubKey.Key() && sv > r.account.nextCounter {
		r.account.nextCounter = sv
	}

	return dupErr
}

// Flush atomically moves the outbox out of the Replica, returning the
// operations authored locally since the last flush (or since creation).
// value and state_vector are unaffected — flushed operations remain folded
// into them.
func (r *Replica[D]) Flush() map[uint32]Operation[D] {
	out := r.outbox
	r.outbox = make(map[uint32]Operation[D])
	return out
}
