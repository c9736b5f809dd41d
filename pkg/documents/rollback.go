package documents

// RollbackDocument reports a completed rollback.
type RollbackDocument struct {
	Store     string `json:"store"`
	BackupRef string `json:"backup_ref"`
	Restored  bool   `json:"restored"`
}

// MarshalRollback renders a rollback document.
func MarshalRollback(store, backupRef string) ([]byte, error) {
	return marshal(RollbackDocument{Store: store, BackupRef: backupRef, Restored: true})
}
