package metrics

// Pending returns how many entries repo holds in memory.
func Pending(repo Repository) int {
	r := repo.(*repository)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending()
}

var BackupName = backupName
