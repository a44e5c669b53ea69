package snapshot

import (
	"fmt"
	"log/slog"

	"github.com/DataDog/zstd"
	"github.com/cockroachdb/pebble"
	"go.mongodb.org/mongo-driver/v2/bson"

	coreerrors "github.com/bobboyms/txn-engine/pkg/errors"
	"github.com/bobboyms/txn-engine/pkg/version"
)

// mirrorDoc is the bson-encoded shape a VersionEntry is mirrored as,
// encoded through bson's struct-tag codec.
type mirrorDoc struct {
	TableID        string `bson:"tableId"`
	RecordKey      string `bson:"recordKey"`
	VersionKey     int64  `bson:"versionKey"`
	BeginTimestamp int64  `bson:"beginTimestamp"`
	EndTimestamp   int64  `bson:"endTimestamp"`
	TxID           int64  `bson:"txId"`
	MaxCommitTs    int64  `bson:"maxCommitTs"`
	Payload        []byte `bson:"payload"`
}

// PebbleStore mirrors committed/closed version entries into an LSM tree
// on disk. It is opt-in and off the hot path: the executor's own
// read/upload/validate protocol never blocks on it, and its failures
// never abort a transaction — they are reported to a FaultRecorder by
// the caller that invoked MirrorEntry.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

// OpenPebbleStore opens (creating if necessary) a pebble store rooted at
// dir, the same "atomic directory of files" deployment shape the
// teacher's CheckpointManager uses, swapped for an LSM tree instead of
// one file per checkpoint. A nil logger defaults to slog.Default(); it
// receives the open outcome and MirrorEntry's backend errors. Get does
// not log.
func OpenPebbleStore(dir string, logger *slog.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		logger.Error("open pebble snapshot store failed", "dir", dir, "err", err)
		return nil, coreerrors.Wrap(err, "open pebble snapshot store")
	}
	logger.Info("pebble snapshot store opened", "dir", dir)
	return &PebbleStore{db: db, logger: logger}, nil
}

// mirrorKey orders entries for the same record by VersionKey when
// iterated, and groups them under their owning table.
func mirrorKey(tableID string, recordKey version.RecordKey, versionKey int64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%020d", tableID, recordKey, versionKey))
}

func (s *PebbleStore) MirrorEntry(tableID string, entry version.Entry) error {
	doc := mirrorDoc{
		TableID:        tableID,
		RecordKey:      string(entry.RecordKey),
		VersionKey:     entry.VersionKey,
		BeginTimestamp: entry.BeginTimestamp,
		EndTimestamp:   entry.EndTimestamp,
		TxID:           entry.TxID,
		MaxCommitTs:    entry.MaxCommitTs,
		Payload:        entry.Payload,
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		s.logger.Error("pebble backend error", "op", "encode", "tableId", tableID, "err", err)
		return coreerrors.Wrap(err, "encode mirrored entry")
	}

	compressed, err := zstd.Compress(nil, raw)
	if err != nil {
		s.logger.Error("pebble backend error", "op", "compress", "tableId", tableID, "err", err)
		return coreerrors.Wrap(err, "compress mirrored entry")
	}

	key := mirrorKey(tableID, entry.RecordKey, entry.VersionKey)
	if err := s.db.Set(key, compressed, pebble.NoSync); err != nil {
		s.logger.Error("pebble backend error", "op", "write", "tableId", tableID, "err", err)
		return coreerrors.Wrap(err, "write mirrored entry")
	}
	return nil
}

// Get returns the mirrored image of one version entry, decompressing and
// decoding it back. Exists for tests and for an external reader that
// wants to verify what was mirrored without standing up a full engine.
func (s *PebbleStore) Get(tableID string, recordKey version.RecordKey, versionKey int64) (version.Entry, bool, error) {
	key := mirrorKey(tableID, recordKey, versionKey)
	compressed, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return version.Entry{}, false, nil
	}
	if err != nil {
		return version.Entry{}, false, coreerrors.Wrap(err, "read mirrored entry")
	}
	defer closer.Close()

	raw, err := zstd.Decompress(nil, compressed)
	if err != nil {
		return version.Entry{}, false, coreerrors.Wrap(err, "decompress mirrored entry")
	}

	var doc mirrorDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return version.Entry{}, false, coreerrors.Wrap(err, "decode mirrored entry")
	}

	return version.Entry{
		RecordKey:      version.RecordKey(doc.RecordKey),
		VersionKey:     doc.VersionKey,
		BeginTimestamp: doc.BeginTimestamp,
		EndTimestamp:   doc.EndTimestamp,
		TxID:           doc.TxID,
		MaxCommitTs:    doc.MaxCommitTs,
		Payload:        doc.Payload,
	}, true, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
