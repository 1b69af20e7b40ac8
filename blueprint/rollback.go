package blueprint

import "github.com/forgekit/forge/tooling"

// Transaction records files created during a pipeline run so a fatal
// early failure can undo them.
type Transaction struct {
	ws      *tooling.Workspace
	created []string
}

// NewTransaction starts an empty transaction over the workspace.
func NewTransaction(ws *tooling.Workspace) *Transaction {
	return &Transaction{ws: ws}
}

// Record notes a file created by this run.
func (tx *Transaction) Record(path string) {
	tx.created = append(tx.created, path)
}

// Created returns the recorded paths in creation order.
func (tx *Transaction) Created() []string {
	return append([]string(nil), tx.created...)
}

// Rollback removes recorded files in reverse order. Removal errors are
// collected, not fatal; rollback is best effort.
func (tx *Transaction) Rollback() []error {
	var errs []error
	for i := len(tx.created) - 1; i >= 0; i-- {
		if err := tx.ws.RemoveFile(tx.created[i]); err != nil {
			errs = append(errs, err)
		}
	}
	tx.created = nil
	return errs
}
