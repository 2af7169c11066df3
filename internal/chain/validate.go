package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChainBroken is the sentinel matched by errors.Is for any chain
// validation failure.
var ErrChainBroken = errors.New("integrity chain broken")

// Break describes one divergence found during validation.
type Break struct {
	// Index is the position in the validated slice, not the event sequence.
	Index  int
	Reason string
}

// BreakError reports every divergence found in a chain. Validation scans the
// whole slice so operators see the full extent of the damage, not only the
// first broken link.
type BreakError struct {
	Breaks []Break
}

// FirstIndex returns the index of the earliest divergence.
func (e *BreakError) FirstIndex() int {
	if len(e.Breaks) == 0 {
		return -1
	}
	return e.Breaks[0].Index
}

func (e *BreakError) Error() string {
	if len(e.Breaks) == 0 {
		return ErrChainBroken.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "integrity chain broken at index %d", e.Breaks[0].Index)
	if len(e.Breaks) > 1 {
		fmt.Fprintf(&b, " (%d breaks total)", len(e.Breaks))
	}
	b.WriteString(": ")
	b.WriteString(e.Breaks[0].Reason)
	return b.String()
}

// Is lets errors.Is(err, ErrChainBroken) match a *BreakError.
func (e *BreakError) Is(target error) bool { return target == ErrChainBroken }

// ValidateChain verifies a single aggregate's chain: every content id must
// recompute from its stored payload and previous id, every previous id must
// equal the prior event's content id, and sequence numbers must increase by
// exactly one. All divergences are collected before returning.
func ValidateChain(events []ChainedEvent) error {
	var breaks []Break
	for i, evt := range events {
		id, err := CalculateID(evt.Payload, evt.PreviousID)
		if err != nil {
			breaks = append(breaks, Break{Index: i, Reason: fmt.Sprintf("recompute id: %v", err)})
			continue
		}
		if id != evt.ContentID {
			breaks = append(breaks, Break{
				Index:  i,
				Reason: fmt.Sprintf("content id mismatch: stored %s, computed %s", evt.ContentID, id),
			})
		}
		if i == 0 {
			if evt.PreviousID != "" {
				breaks = append(breaks, Break{Index: i, Reason: "first event has a previous id"})
			}
			continue
		}
		if evt.PreviousID != events[i-1].ContentID {
			breaks = append(breaks, Break{
				Index:  i,
				Reason: fmt.Sprintf("previous id mismatch: stored %s, expected %s", evt.PreviousID, events[i-1].ContentID),
			})
		}
		if evt.Sequence != events[i-1].Sequence+1 {
			breaks = append(breaks, Break{
				Index:  i,
				Reason: fmt.Sprintf("sequence gap: %d follows %d", evt.Sequence, events[i-1].Sequence),
			})
		}
	}
	if len(breaks) > 0 {
		return &BreakError{Breaks: breaks}
	}
	return nil
}
