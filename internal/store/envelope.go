package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/viewlabs/viewband/pkg/envelope"
)

// Key layout. Snapshot ids and ages are big-endian so iteration order
// matches numeric order.
//
//	meta/seq                  last allocated snapshot id
//	meta/current              committed snapshot id
//	meta/pending              snapshot id currently being staged
//	meta/watermark            highest staged age of the pending snapshot
//	curve/<snap>/<age>        one curve row
//	baseline/<entity>         one entity baseline
//	archive/<snap>            zstd-compressed JSON of the full curve
var (
	keySeq       = []byte("meta/seq")
	keyCurrent   = []byte("meta/current")
	keyPending   = []byte("meta/pending")
	keyWatermark = []byte("meta/watermark")
)

// BadgerStore persists envelope curves and entity baselines. Curves
// are staged under a fresh snapshot id and become visible only when
// meta/current flips, so readers always see the last fully committed
// snapshot even while a refresh is staging.
type BadgerStore struct {
	db       *badger.DB
	archiver *Archiver
}

// NewBadgerStore opens (or creates) the envelope database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open envelope store %s: %w", path, err)
	}

	archiver, err := NewArchiver()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BadgerStore{db: db, archiver: archiver}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// curveRow is the stored shape of one curve age. Percentile values are
// integers: view counts, not fractions.
type curveRow struct {
	AgeDays int   `json:"age_days"`
	P10     int64 `json:"p10"`
	P25     int64 `json:"p25"`
	P50     int64 `json:"p50"`
	P75     int64 `json:"p75"`
	P90     int64 `json:"p90"`
	P95     int64 `json:"p95"`
	Samples int   `json:"sample_count"`
}

func rowFromPoint(p envelope.Point) curveRow {
	r := curveRow{AgeDays: p.AgeDays, Samples: p.SampleCount}
	r.P10 = int64(math.Round(p.Bands[envelope.BandP10]))
	r.P25 = int64(math.Round(p.Bands[envelope.BandP25]))
	r.P50 = int64(math.Round(p.Bands[envelope.BandP50]))
	r.P75 = int64(math.Round(p.Bands[envelope.BandP75]))
	r.P90 = int64(math.Round(p.Bands[envelope.BandP90]))
	r.P95 = int64(math.Round(p.Bands[envelope.BandP95]))
	return r
}

func pointFromRow(r curveRow) envelope.Point {
	p := envelope.Point{AgeDays: r.AgeDays, SampleCount: r.Samples}
	p.Bands[envelope.BandP10] = float64(r.P10)
	p.Bands[envelope.BandP25] = float64(r.P25)
	p.Bands[envelope.BandP50] = float64(r.P50)
	p.Bands[envelope.BandP75] = float64(r.P75)
	p.Bands[envelope.BandP90] = float64(r.P90)
	p.Bands[envelope.BandP95] = float64(r.P95)
	return p
}

func curvePrefix(snapshot uint64) []byte {
	key := make([]byte, 0, 15)
	key = append(key, "curve/"...)
	key = binary.BigEndian.AppendUint64(key, snapshot)
	return append(key, '/')
}

func curveKey(snapshot uint64, age int) []byte {
	return binary.BigEndian.AppendUint32(curvePrefix(snapshot), uint32(age))
}

func baselineKey(entityID string) []byte {
	return []byte("baseline/" + entityID)
}

func archiveKey(snapshot uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte("archive/"), snapshot)
}

// BeginSnapshot allocates a fresh snapshot id and marks it pending.
func (s *BadgerStore) BeginSnapshot(ctx context.Context) (uint64, error) {
	var snapshot uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		seq, err := getUint64(txn, keySeq)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		snapshot = seq + 1
		if err := setUint64(txn, keySeq, snapshot); err != nil {
			return err
		}
		if err := setUint64(txn, keyPending, snapshot); err != nil {
			return err
		}
		return txn.Delete(keyWatermark)
	})
	if err != nil {
		return 0, fmt.Errorf("begin snapshot: %w", err)
	}
	return snapshot, nil
}

// PendingSnapshot reports an unfinished staging run. Snapshot 0 means
// none; watermark -1 means nothing staged yet.
func (s *BadgerStore) PendingSnapshot(ctx context.Context) (uint64, int, error) {
	var snapshot uint64
	watermark := -1
	err := s.db.View(func(txn *badger.Txn) error {
		snap, err := getUint64(txn, keyPending)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		snapshot = snap

		wm, err := getUint64(txn, keyWatermark)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		watermark = int(wm)
		return nil
	})
	if err != nil {
		return 0, -1, fmt.Errorf("pending snapshot: %w", err)
	}
	return snapshot, watermark, nil
}

// StagePoints writes curve rows under an uncommitted snapshot and
// advances the watermark past them. Rows are flushed before the
// watermark moves, so a resumed run never skips unstaged ages.
func (s *BadgerStore) StagePoints(ctx context.Context, snapshot uint64, points []envelope.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	for _, p := range points {
		data, err := json.Marshal(rowFromPoint(p))
		if err != nil {
			return fmt.Errorf("stage age %d: %w", p.AgeDays, err)
		}
		if err := batch.Set(curveKey(snapshot, p.AgeDays), data); err != nil {
			return fmt.Errorf("stage age %d: %w", p.AgeDays, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("stage points: %w", err)
	}

	last := points[len(points)-1].AgeDays
	err := s.db.Update(func(txn *badger.Txn) error {
		return setUint64(txn, keyWatermark, uint64(last))
	})
	if err != nil {
		return fmt.Errorf("advance watermark to %d: %w", last, err)
	}
	return nil
}

// CommitSnapshot makes a staged snapshot the committed one: the
// archive blob and the meta/current flip happen in a single
// transaction, so readers switch from the old curve to the new one
// atomically. Rows of the superseded snapshot are deleted afterwards;
// that cleanup is best-effort since the commit is already durable.
func (s *BadgerStore) CommitSnapshot(ctx context.Context, snapshot uint64) error {
	rows, err := s.readRows(snapshot)
	if err != nil {
		return fmt.Errorf("commit snapshot %d: %w", snapshot, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("commit snapshot %d: nothing staged", snapshot)
	}

	blob, err := s.archiver.Compress(rows)
	if err != nil {
		return fmt.Errorf("commit snapshot %d: archive: %w", snapshot, err)
	}

	var previous uint64
	err = s.db.Update(func(txn *badger.Txn) error {
		prev, err := getUint64(txn, keyCurrent)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		previous = prev

		if err := txn.Set(archiveKey(snapshot), blob); err != nil {
			return err
		}
		if err := setUint64(txn, keyCurrent, snapshot); err != nil {
			return err
		}
		if err := txn.Delete(keyPending); err != nil {
			return err
		}
		return txn.Delete(keyWatermark)
	})
	if err != nil {
		return fmt.Errorf("commit snapshot %d: %w", snapshot, err)
	}

	if previous != 0 && previous != snapshot {
		_ = s.dropSnapshotRows(previous)
	}
	return nil
}

// CurrentCurve loads the committed curve. Returns envelope.ErrNoCurve
// when no snapshot has ever been committed.
func (s *BadgerStore) CurrentCurve(ctx context.Context) (*envelope.Curve, uint64, error) {
	snapshot, err := s.currentSnapshot()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.readRows(snapshot)
	if err != nil {
		return nil, 0, fmt.Errorf("load curve snapshot %d: %w", snapshot, err)
	}

	points := make([]envelope.Point, len(rows))
	for i, r := range rows {
		points[i] = pointFromRow(r)
	}
	curve, err := envelope.NewCurve(points)
	if err != nil {
		return nil, 0, fmt.Errorf("load curve snapshot %d: %w", snapshot, err)
	}
	return curve, snapshot, nil
}

// CurvePoints returns the committed rows for ages [from, to].
func (s *BadgerStore) CurvePoints(ctx context.Context, from, to int) ([]envelope.Point, error) {
	snapshot, err := s.currentSnapshot()
	if err != nil {
		return nil, err
	}

	var points []envelope.Point
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = curvePrefix(snapshot)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(curveKey(snapshot, from)); it.Valid(); it.Next() {
			var row curveRow
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			if row.AgeDays > to {
				break
			}
			points = append(points, pointFromRow(row))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("curve points [%d,%d]: %w", from, to, err)
	}
	return points, nil
}

// CurvePoint is the point lookup by age.
func (s *BadgerStore) CurvePoint(ctx context.Context, age int) (envelope.Point, error) {
	snapshot, err := s.currentSnapshot()
	if err != nil {
		return envelope.Point{}, err
	}

	var row curveRow
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(curveKey(snapshot, age))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return envelope.Point{}, fmt.Errorf("curve point age %d: %w", age, envelope.ErrNotFound)
	}
	if err != nil {
		return envelope.Point{}, fmt.Errorf("curve point age %d: %w", age, err)
	}
	return pointFromRow(row), nil
}

// UpsertBaseline overwrites the entity's baseline in place.
func (s *BadgerStore) UpsertBaseline(ctx context.Context, b envelope.Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("upsert baseline %s: %w", b.EntityID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(baselineKey(b.EntityID), data)
	})
	if err != nil {
		return fmt.Errorf("upsert baseline %s: %w", b.EntityID, err)
	}
	return nil
}

// GetBaseline returns the entity's baseline or envelope.ErrNotFound.
func (s *BadgerStore) GetBaseline(ctx context.Context, entityID string) (envelope.Baseline, error) {
	var b envelope.Baseline
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(baselineKey(entityID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return envelope.Baseline{}, fmt.Errorf("baseline %s: %w", entityID, envelope.ErrNotFound)
	}
	if err != nil {
		return envelope.Baseline{}, fmt.Errorf("baseline %s: %w", entityID, err)
	}
	return b, nil
}

// SnapshotInfo describes the store's commit state.
type SnapshotInfo struct {
	Current   uint64 `json:"current"`
	Pending   uint64 `json:"pending,omitempty"`
	Watermark int    `json:"watermark,omitempty"`
}

// Snapshot returns current/pending snapshot metadata.
func (s *BadgerStore) Snapshot(ctx context.Context) (SnapshotInfo, error) {
	info := SnapshotInfo{Watermark: -1}
	err := s.db.View(func(txn *badger.Txn) error {
		if cur, err := getUint64(txn, keyCurrent); err == nil {
			info.Current = cur
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if pend, err := getUint64(txn, keyPending); err == nil {
			info.Pending = pend
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if wm, err := getUint64(txn, keyWatermark); err == nil {
			info.Watermark = int(wm)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot info: %w", err)
	}
	return info, nil
}

// ExportArchive returns the decompressed archived curve of a committed
// snapshot. Snapshot 0 exports the current one.
func (s *BadgerStore) ExportArchive(ctx context.Context, snapshot uint64) ([]envelope.Point, error) {
	if snapshot == 0 {
		cur, err := s.currentSnapshot()
		if err != nil {
			return nil, err
		}
		snapshot = cur
	}

	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(snapshot))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("archive snapshot %d: %w", snapshot, envelope.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive snapshot %d: %w", snapshot, err)
	}

	rows, err := s.archiver.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("archive snapshot %d: %w", snapshot, err)
	}
	points := make([]envelope.Point, len(rows))
	for i, r := range rows {
		points[i] = pointFromRow(r)
	}
	return points, nil
}

func (s *BadgerStore) currentSnapshot() (uint64, error) {
	var snapshot uint64
	err := s.db.View(func(txn *badger.Txn) error {
		snap, err := getUint64(txn, keyCurrent)
		if err != nil {
			return err
		}
		snapshot = snap
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, envelope.ErrNoCurve
	}
	if err != nil {
		return 0, fmt.Errorf("current snapshot: %w", err)
	}
	return snapshot, nil
}

// readRows loads all rows of one snapshot in age order.
func (s *BadgerStore) readRows(snapshot uint64) ([]curveRow, error) {
	var rows []curveRow
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = curvePrefix(snapshot)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var row curveRow
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

// dropSnapshotRows deletes the per-age rows of a superseded snapshot.
// Its archive blob stays for history.
func (s *BadgerStore) dropSnapshotRows(snapshot uint64) error {
	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = curvePrefix(snapshot)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := batch.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return batch.Flush()
}

func getUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("key %s: expected 8 bytes, got %d", key, len(val))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func setUint64(txn *badger.Txn, key []byte, v uint64) error {
	return txn.Set(key, binary.BigEndian.AppendUint64(nil, v))
}
