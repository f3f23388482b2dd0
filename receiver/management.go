// SPDX-License-Identifier: MIT

package receiver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkveil/linkrecv/linkiface"
	"github.com/arkveil/linkrecv/ticks"
)

// managementLinkSuffix is appended to the receive path to address the
// paired request/response link, following the broker's convention of
// hanging a $management node off every entity path.
const managementLinkSuffix = "/$management"

// requestResponseLink lazily creates the management link under rrMu,
// then reuses it as a thread-safe object.
func (r *Receiver) requestResponseLink() (linkiface.RequestResponseLink, error) {
	r.rrMu.Lock()
	defer r.rrMu.Unlock()

	if r.rrLink != nil {
		return r.rrLink, nil
	}

	link, err := r.factory.CreateRequestResponseLink(r.receivePath + managementLinkSuffix)
	if err != nil {
		return nil, err
	}

	r.rrLink = link
	return link, nil
}

// manage sends a single management request and reduces it to either a
// successful response or a FatalError carrying the broker's status and
// condition; only status 200 is treated as success.
func (r *Receiver) manage(ctx context.Context, operation string, body map[string]any) (linkiface.ResponseMessage, error) {
	link, err := r.requestResponseLink()
	if err != nil {
		return linkiface.ResponseMessage{}, err
	}

	resp, err := link.Request(ctx, linkiface.RequestMessage{Operation: operation, Body: body}, r.opTimeout)
	if err != nil {
		return linkiface.ResponseMessage{}, err
	}

	if resp.StatusCode != linkiface.StatusOK {
		desc := "no error detail"
		if resp.Error != nil {
			desc = fmt.Sprintf("%s: %s", resp.Error.Condition, resp.Error.Description)
		}
		return resp, FatalError{Cause: fmt.Errorf("management operation %q failed with status %d (%s)", operation, resp.StatusCode, desc)}
	}

	return resp, nil
}

// RenewLocks renews the peek-lock on each token, returning their new
// expiration instants in the same order.
func (r *Receiver) RenewLocks(ctx context.Context, tokens []uuid.UUID) ([]time.Time, error) {
	body := map[string]any{"lock-tokens": tokens}
	if r.session.isSession {
		body["session-id"] = r.session.id()
	}

	resp, err := r.manage(ctx, "com.microsoft:renew-lock", body)
	if err != nil {
		return nil, err
	}

	raw, _ := resp.Body["expirations"].([]int64)
	out := make([]time.Time, len(raw))
	for i, dotnetTicks := range raw {
		out[i] = ticks.ToTime(dotnetTicks)
	}

	return out, nil
}

// ReceiveBySequenceNumbers fetches specific messages by sequence number
// under peek-lock, returning each with its lock token.
func (r *Receiver) ReceiveBySequenceNumbers(ctx context.Context, sequenceNumbers []int64, settleMode linkiface.SettleMode) ([]MessageWithLockToken, error) {
	body := map[string]any{
		"sequence-numbers":     sequenceNumbers,
		"receiver-settle-mode": int(settleMode),
	}
	if r.session.isSession {
		body["session-id"] = r.session.id()
	}

	resp, err := r.manage(ctx, "com.microsoft:receive-by-sequence-number", body)
	if err != nil {
		return nil, err
	}

	items, _ := resp.Body["messages"].([]map[string]any)
	out := make([]MessageWithLockToken, 0, len(items))
	for _, item := range items {
		payload, _ := item["message"].([]byte)
		token, _ := item["lock-token"].(uuid.UUID)
		out = append(out, MessageWithLockToken{Payload: payload, LockToken: token})
	}

	return out, nil
}

// UpdateDispositionByLockTokens settles one or more lock-token
// identified messages without needing a live delivery handle, the
// management-channel counterpart to Complete/Abandon/Defer/DeadLetter.
func (r *Receiver) UpdateDispositionByLockTokens(ctx context.Context, tokens []uuid.UUID, status DispositionStatus, deadLetterReason, deadLetterDescription string, propertiesToModify map[string]any) error {
	body := map[string]any{
		"lock-tokens":          tokens,
		"disposition-status":   string(status),
		"properties-to-modify": propertiesToModify,
	}
	if r.session.isSession {
		body["session-id"] = r.session.id()
	}
	if status == DispositionSuspended {
		body["dead-letter-reason"] = deadLetterReason
		body["dead-letter-description"] = deadLetterDescription
	}

	_, err := r.manage(ctx, "com.microsoft:update-disposition", body)
	return err
}

// RenewSessionLock extends the exclusive lock on the current session and
// updates the locally cached expiration.
func (r *Receiver) RenewSessionLock(ctx context.Context) (time.Time, error) {
	sessionID, err := r.SessionID()
	if err != nil {
		return time.Time{}, err
	}

	resp, err := r.manage(ctx, "com.microsoft:renew-session-lock", map[string]any{"session-id": sessionID})
	if err != nil {
		return time.Time{}, err
	}

	dotnetTicks, _ := resp.Body["expiration"].(int64)
	expiry := ticks.ToTime(dotnetTicks)
	r.session.setLockedUntil(expiry)

	return expiry, nil
}

// GetSessionState fetches the current session's opaque state blob, nil
// meaning no state has ever been set.
func (r *Receiver) GetSessionState(ctx context.Context) (SessionState, error) {
	sessionID, err := r.SessionID()
	if err != nil {
		return nil, err
	}

	resp, err := r.manage(ctx, "com.microsoft:get-session-state", map[string]any{"session-id": sessionID})
	if err != nil {
		return nil, err
	}

	state, _ := resp.Body["session-state"].([]byte)
	return state, nil
}

// SetSessionState replaces the current session's state blob. A nil state
// clears it.
func (r *Receiver) SetSessionState(ctx context.Context, state SessionState) error {
	sessionID, err := r.SessionID()
	if err != nil {
		return err
	}

	_, err = r.manage(ctx, "com.microsoft:set-session-state", map[string]any{
		"session-id":    sessionID,
		"session-state": []byte(state),
	})
	return err
}

// PeekMessages browses up to messageCount messages starting at
// fromSequenceNumber without locking or consuming them.
func (r *Receiver) PeekMessages(ctx context.Context, fromSequenceNumber int64, messageCount int) ([]MessageWithTag, error) {
	body := map[string]any{
		"from-sequence-number": fromSequenceNumber,
		"message-count":        messageCount,
	}
	if r.session.isSession {
		body["session-id"] = r.session.id()
	}

	resp, err := r.manage(ctx, "com.microsoft:peek-message", body)
	if err != nil {
		return nil, err
	}

	raw, _ := resp.Body["messages"].([][]byte)
	out := make([]MessageWithTag, 0, len(raw))
	for _, payload := range raw {
		out = append(out, MessageWithTag{Payload: payload, ContentType: decodeContentType(payload)})
	}

	return out, nil
}
