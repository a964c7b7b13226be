package sftpsvc

import oerrs "oxideterm/internal/errs"

// Pause, Resume, CancelTransfer adapt TransferManager's by-reference
// Transfer controls to an ID-keyed control surface, the shape exposed
// to callers (e.g. a future IPC layer) that only hold a transfer ID
// rather than a *Transfer (spec §4.6).

func (m *TransferManager) Pause(id string) error {
	t := m.Get(id)
	if t == nil {
		return errNotFound(id)
	}
	if t.Status() != TransferRunning {
		return oerrs.New(oerrs.KindTransfer, "transfer not running")
	}
	t.Pause()
	return nil
}

func (m *TransferManager) Resume(id string) error {
	t := m.Get(id)
	if t == nil {
		return errNotFound(id)
	}
	if t.Status() != TransferPaused {
		return oerrs.New(oerrs.KindTransfer, "transfer not paused")
	}
	t.Resume()
	return nil
}

func (m *TransferManager) CancelTransfer(id string) error {
	t := m.Get(id)
	if t == nil {
		return errNotFound(id)
	}
	t.Cancel()
	return nil
}
