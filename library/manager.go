package library

// LibraryManager owns the database handle and the Service built on it,
// keeping CLI code simple.
type LibraryManager struct {
	*Service
	db *Database
}

// ManagerOptions tunes NewLibraryManager.
type ManagerOptions struct {
	StrictLedger bool
	Service      []Option
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ManagerOptions) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{
		Service: NewSQLiteService(db, opts.StrictLedger, opts.Service...),
		db:      db,
	}, nil
}

// Database exposes the handle, mainly for tools that need its path.
func (lm *LibraryManager) Database() *Database { return lm.db }

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }
