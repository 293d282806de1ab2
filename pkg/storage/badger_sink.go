package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"page-harvester/pkg/log"
	"page-harvester/pkg/models"
	"page-harvester/pkg/utils"
)

const (
	resultKeyPrefix = "result:" // Prefix for page record keys in DB
	errorKeyPrefix  = "error:"  // Prefix for error record keys in DB
	reportKey       = "report:latest"
	resultsDBDir    = "results_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerSink implements the ResultSink interface using BadgerDB
type BadgerSink struct {
	db          *badger.DB
	log         *logrus.Entry
	recordCount atomic.Int64 // Cached result-key count for O(1) RecordCount
}

// NewBadgerSink initializes and returns a new BadgerSink. Each run starts
// from a clean dataset: any records left by a previous run in the same
// state directory are wiped.
func NewBadgerSink(stateDir, runName string, logger *logrus.Entry) (*BadgerSink, error) {
	sink := &BadgerSink{
		log: logger,
	}

	dbDirName := utils.SanitizeFilename(runName) + "_" + resultsDBDir
	dbPath := filepath.Join(stateDir, dbDirName)

	if err := os.RemoveAll(dbPath); err != nil {
		// Log and attempt to continue; Badger may still open cleanly
		logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
	}

	logger.Infof("Initializing result database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest outcome per URL matters

	var err error
	sink.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	logger.Info("Result database initialized successfully.")
	return sink, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerSink) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// SaveRecord implements the ResultSink interface. The record replaces any
// earlier error for the same URL so each URL keeps exactly one outcome.
func (s *BadgerSink) SaveRecord(rec *models.PageRecord) error {
	if s.db == nil {
		return errors.New("result DB not initialized")
	}
	key := []byte(resultKeyPrefix + rec.URL)

	recBytes, errJson := json.Marshal(rec)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal PageRecord for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		if errSet := txn.SetEntry(badger.NewEntry(key, recBytes)); errSet != nil {
			return errSet
		}
		// Drop any stale error outcome for this URL
		errDel := txn.Delete([]byte(errorKeyPrefix + rec.URL))
		if errDel != nil && !errors.Is(errDel, badger.ErrKeyNotFound) {
			return errDel
		}
		return nil
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in SaveRecord: %v", err)
		return fmt.Errorf("%w: failed saving record for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.recordCount.Add(1)
	}

	s.log.Debugf("Saved page record for key '%s'", string(key))
	return nil
}

// SaveError implements the ResultSink interface. The error replaces any
// earlier record for the same URL.
func (s *BadgerSink) SaveError(errRec *models.ErrorRecord) error {
	if s.db == nil {
		return errors.New("result DB not initialized")
	}
	key := []byte(errorKeyPrefix + errRec.URL)

	entryBytes, errJson := json.Marshal(errRec)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal ErrorRecord for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	hadRecord := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		resultKey := []byte(resultKeyPrefix + errRec.URL)
		_, errGet := txn.Get(resultKey)
		if errGet == nil {
			hadRecord = true
			if errDel := txn.Delete(resultKey); errDel != nil {
				return errDel
			}
		} else if !errors.Is(errGet, badger.ErrKeyNotFound) {
			return errGet
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in SaveError: %v", err)
		return fmt.Errorf("%w: failed saving error for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if hadRecord {
		s.recordCount.Add(-1)
	}

	s.log.Debugf("Saved error record for key '%s' (type: %s)", string(key), errRec.ErrorType)
	return nil
}

// SaveReport implements the ResultSink interface. The report lives under a
// single fixed key; a rerun against the same state directory overwrites it.
func (s *BadgerSink) SaveReport(report models.RunReport) error {
	if s.db == nil {
		return errors.New("result DB not initialized")
	}

	reportBytes, errJson := json.Marshal(report)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal RunReport: %w", utils.ErrParsing, errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(reportKey), reportBytes))
	})
	if err != nil {
		s.log.Errorf("DB Update error in SaveReport: %v", err)
		return fmt.Errorf("%w: failed saving run report: %w", utils.ErrDatabase, err)
	}

	s.log.Debugf("Saved run report '%s' under key '%s'", report.RunID, reportKey)
	return nil
}

// RecordCount implements the ResultSink interface.
// Returns the cached record count (O(1)) maintained by atomic updates on writes.
func (s *BadgerSink) RecordCount() (int, error) {
	return int(s.recordCount.Load()), nil
}

// GetRecord retrieves the stored page record for a URL.
// Returns the record, whether it exists, and any error.
func (s *BadgerSink) GetRecord(url string) (*models.PageRecord, bool, error) {
	var rec *models.PageRecord
	found := false
	key := []byte(resultKeyPrefix + url)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting record key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.PageRecord
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				return fmt.Errorf("%w: failed to unmarshal PageRecord for key '%s': %w", utils.ErrParsing, string(key), errJson)
			}
			rec = &decoded
			found = true
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in GetRecord for key '%s': %v", string(key), errView)
		return nil, false, errView
	}
	return rec, found, nil
}

// GetError retrieves the stored error record for a URL.
// Returns the record, whether it exists, and any error.
func (s *BadgerSink) GetError(url string) (*models.ErrorRecord, bool, error) {
	var rec *models.ErrorRecord
	found := false
	key := []byte(errorKeyPrefix + url)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting error key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.ErrorRecord
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				return fmt.Errorf("%w: failed to unmarshal ErrorRecord for key '%s': %w", utils.ErrParsing, string(key), errJson)
			}
			rec = &decoded
			found = true
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in GetError for key '%s': %v", string(key), errView)
		return nil, false, errView
	}
	return rec, found, nil
}

// GetReport retrieves the latest run report, if one was saved.
func (s *BadgerSink) GetReport() (*models.RunReport, bool, error) {
	var report *models.RunReport
	found := false

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(reportKey))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting report key: %w", utils.ErrDatabase, errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.RunReport
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				return fmt.Errorf("%w: failed to unmarshal RunReport: %w", utils.ErrParsing, errJson)
			}
			report = &decoded
			found = true
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in GetReport: %v", errView)
		return nil, false, errView
	}
	return report, found, nil
}

// Close implements the ResultSink interface
func (s *BadgerSink) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing result DB...")
		err := s.db.Close()
		if err != nil {
			s.log.Errorf("Error closing result DB: %v", err)
			return err
		}
		s.log.Info("Result DB closed.")
		return nil
	}
	s.log.Info("Result DB already closed or was not initialized.")
	return nil
}
