// Package verify provides offline integrity verification of the
// persisted stream cache: envelope hashes and signatures, miniblock
// hash-chain continuity, header consistency, and stream record
// bookkeeping.
package verify

import (
	"errors"
	"fmt"
	"time"

	"streamsync/internal/model"
	"streamsync/internal/persist"
	"streamsync/internal/transport"
)

var ErrStreamNotCached = errors.New("verify: stream not in cache")

// CheckStatus is the outcome of one verification component.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusFail CheckStatus = "fail"
	StatusSkip CheckStatus = "skip"
)

// ComponentResult is one named check within a stream's verification.
type ComponentResult struct {
	Component string      `json:"component"`
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message"`
	Error     string      `json:"error,omitempty"`
}

// StreamResult is the verification outcome for one stream.
type StreamResult struct {
	StreamID   model.StreamID    `json:"streamId"`
	Valid      bool              `json:"valid"`
	Miniblocks int               `json:"miniblocks"`
	Events     int               `json:"events"`
	Components []ComponentResult `json:"components"`
}

// Report covers a whole cache database.
type Report struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	DBPath      string         `json:"dbPath"`
	Valid       bool           `json:"valid"`
	Streams     []StreamResult `json:"streams"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
}

// Verifier checks a persisted cache database.
type Verifier struct {
	store  *persist.Store
	dbPath string
}

// NewVerifier opens the cache database at dbPath.
func NewVerifier(dbPath string) (*Verifier, error) {
	store, err := persist.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("verify: open cache: %w", err)
	}
	return &Verifier{store: store, dbPath: dbPath}, nil
}

// Close releases the underlying database.
func (v *Verifier) Close() error {
	return v.store.Close()
}

// VerifyAll verifies every stream in the cache.
func (v *Verifier) VerifyAll() (*Report, error) {
	ids, err := v.store.ListStreams()
	if err != nil {
		return nil, fmt.Errorf("verify: list streams: %w", err)
	}
	report := &Report{
		GeneratedAt: time.Now(),
		DBPath:      v.dbPath,
		Valid:       true,
	}
	for _, id := range ids {
		res, err := v.VerifyStream(id)
		if err != nil {
			return nil, err
		}
		report.Streams = append(report.Streams, *res)
		if res.Valid {
			report.Passed++
		} else {
			report.Failed++
			report.Valid = false
		}
	}
	return report, nil
}

// VerifyStream verifies one stream's cached data.
func (v *Verifier) VerifyStream(streamID model.StreamID) (*StreamResult, error) {
	rec, err := v.store.LoadStream(streamID)
	if err != nil {
		return nil, fmt.Errorf("verify: load stream record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotCached, streamID)
	}

	bundles, err := v.store.LoadMiniblocks(streamID, 0, rec.LastMiniblockNum+1)
	if err != nil {
		return nil, fmt.Errorf("verify: load miniblocks: %w", err)
	}

	res := &StreamResult{StreamID: streamID, Miniblocks: len(bundles)}

	blocks, envelopeCheck := checkEnvelopes(bundles)
	res.Components = append(res.Components, envelopeCheck)
	for _, b := range blocks {
		res.Events += len(b.Events)
	}

	res.Components = append(res.Components,
		checkHeaders(blocks),
		checkChain(blocks),
		checkRecord(rec, blocks),
		checkMinipool(rec),
	)

	res.Valid = true
	for _, c := range res.Components {
		if c.Status == StatusFail {
			res.Valid = false
			break
		}
	}
	return res, nil
}

// checkEnvelopes re-verifies every stored envelope: content hash and
// signature, header and events alike. Parse failures drop the block
// from the later structural checks.
func checkEnvelopes(bundles []transport.MiniblockBundle) ([]*model.Miniblock, ComponentResult) {
	now := time.Now()
	var blocks []*model.Miniblock
	checked := 0
	for _, b := range bundles {
		header, err := model.ParseEnvelope(b.Header, now)
		if err != nil {
			return blocks, failCheck("envelopes", "stored header envelope invalid", err)
		}
		checked++
		events := make([]*model.ParsedEvent, 0, len(b.Events))
		for _, env := range b.Events {
			ev, err := model.ParseEnvelope(env, now)
			if err != nil {
				return blocks, failCheck("envelopes", "stored event envelope invalid", err)
			}
			checked++
			events = append(events, ev)
		}
		block, err := model.NewMiniblock(header, events)
		if err != nil {
			return blocks, failCheck("envelopes", "stored header is not a miniblock header", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, ComponentResult{
		Component: "envelopes",
		Status:    StatusPass,
		Message:   fmt.Sprintf("%d envelopes verified", checked),
	}
}

// checkHeaders verifies each header's event-hash list matches the
// bundled events exactly, in order.
func checkHeaders(blocks []*model.Miniblock) ComponentResult {
	for _, b := range blocks {
		hashes := b.Header().EventHashes
		if len(hashes) != len(b.Events) {
			return failCheck("headers",
				fmt.Sprintf("miniblock %d lists %d hashes but carries %d events",
					b.Num(), len(hashes), len(b.Events)), nil)
		}
		for i, ev := range b.Events {
			if hashes[i] != ev.Hash {
				return failCheck("headers",
					fmt.Sprintf("miniblock %d event %d hash mismatch", b.Num(), i), nil)
			}
		}
	}
	return ComponentResult{
		Component: "headers",
		Status:    StatusPass,
		Message:   fmt.Sprintf("%d headers consistent", len(blocks)),
	}
}

// checkChain verifies prev-hash links. The cache may hold several
// disjoint contiguous runs (scrollback pages), so only adjacent
// numbers are required to link.
func checkChain(blocks []*model.Miniblock) ComponentResult {
	runs := 0
	for i := 0; i < len(blocks); {
		j := i + 1
		for j < len(blocks) && blocks[j].Num() == blocks[j-1].Num()+1 {
			j++
		}
		if err := model.CheckChain(blocks[i:j]); err != nil {
			return failCheck("chain", "hash chain broken", err)
		}
		runs++
		i = j
	}
	return ComponentResult{
		Component: "chain",
		Status:    StatusPass,
		Message:   fmt.Sprintf("%d miniblocks in %d contiguous runs", len(blocks), runs),
	}
}

// checkRecord cross-checks the stream record against the stored
// blocks.
func checkRecord(rec *persist.StreamRecord, blocks []*model.Miniblock) ComponentResult {
	if len(blocks) == 0 {
		return ComponentResult{Component: "record", Status: StatusSkip, Message: "no miniblocks cached"}
	}
	last := blocks[len(blocks)-1].Num()
	if rec.LastMiniblockNum != last {
		return failCheck("record",
			fmt.Sprintf("record says last miniblock %d, cache holds %d", rec.LastMiniblockNum, last), nil)
	}
	if rec.LastSnapshotMiniblockNum > last {
		return failCheck("record",
			fmt.Sprintf("snapshot miniblock %d beyond last %d", rec.LastSnapshotMiniblockNum, last), nil)
	}
	found := false
	for _, b := range blocks {
		if b.Num() == rec.LastSnapshotMiniblockNum {
			found = b.Header().Snapshot != nil || rec.LastSnapshotMiniblockNum == 0
			break
		}
	}
	if !found {
		return failCheck("record",
			fmt.Sprintf("snapshot miniblock %d missing or carries no snapshot", rec.LastSnapshotMiniblockNum), nil)
	}
	return ComponentResult{Component: "record", Status: StatusPass, Message: "record consistent"}
}

// checkMinipool re-verifies the persisted pending pool envelopes.
func checkMinipool(rec *persist.StreamRecord) ComponentResult {
	if len(rec.Minipool) == 0 {
		return ComponentResult{Component: "minipool", Status: StatusSkip, Message: "empty"}
	}
	now := time.Now()
	for _, env := range rec.Minipool {
		if _, err := model.ParseEnvelope(env, now); err != nil {
			return failCheck("minipool", "pending envelope invalid", err)
		}
	}
	return ComponentResult{
		Component: "minipool",
		Status:    StatusPass,
		Message:   fmt.Sprintf("%d pending envelopes verified", len(rec.Minipool)),
	}
}

func failCheck(component, message string, err error) ComponentResult {
	res := ComponentResult{Component: component, Status: StatusFail, Message: message}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
