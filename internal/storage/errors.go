package storage

import "errors"

// ErrDuplicate signals a uniqueness-constraint violation on insert. The
// importer reclassifies it as a skip, relying on the store as the source of
// truth for dedup across processes.
var ErrDuplicate = errors.New("duplicate record")

// ErrMissingTable signals that an expected table does not exist yet. The
// importer degrades bookkeeping instead of failing on pre-migration stores.
var ErrMissingTable = errors.New("table does not exist")
