package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/metrics"
	"github.com/bosonnetwork/godht/storage"
	"github.com/bosonnetwork/godht/xcrypto"
)

// defaultExpiration matches spec §4.11's default value/peer expiration,
// applied here only to decide whether GetValue/GetPeer should still
// surface a non-persistent row; Purge takes its own explicit durations.
const defaultExpiration = 2 * time.Hour

// Store is a relational storage.DataStorage backend over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	pool    *Pool
	metrics *metrics.Collector
}

var _ storage.DataStorage = (*Store)(nil)

// New wraps an already-migrated *sql.DB. poolSize bounds concurrent SQL
// operations (spec §5's bounded worker pool); callers typically pass
// db.Stats().MaxOpenConnections or a similar figure.
func New(db *sql.DB, dialect Dialect, poolSize int) *Store {
	return &Store{db: db, dialect: dialect, pool: NewPool(poolSize)}
}

// SetMetrics attaches a Collector the store reports put/get/purge activity
// to. A nil Collector (the default) disables all recording.
func (s *Store) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

func (s *Store) ph(i int) string { return placeholder(s.dialect, i) }

func hexOrNil(id kadid.Id) interface{} {
	if id == kadid.Zero {
		return nil
	}
	return id.Hex()
}

func parseHexId(v sql.NullString) (kadid.Id, error) {
	if !v.Valid || v.String == "" {
		return kadid.Zero, nil
	}
	return kadid.Parse(v.String)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// ---- values ----

func (s *Store) PutValue(value *identity.Value, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.Value, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (*identity.Value, error) {
		return s.putValueTx(ctx, value, persistent, ownsPrivateKey, expectedSequenceNumber)
	})
}

func (s *Store) putValueTx(ctx context.Context, value *identity.Value, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.Value, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "begin putValue transaction")
	}
	defer tx.Rollback()

	id := value.Id()
	existing, err := s.readValueEntryTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	storeNew, err := storage.DecidePutValue(existing, !value.IsImmutable(), value.SequenceNumber, ownsPrivateKey, expectedSequenceNumber)
	if err != nil {
		return nil, err
	}
	if !storeNew {
		if err := tx.Commit(); err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "commit putValue (no-op)")
		}
		return existing.Value, nil
	}

	now := time.Now().UTC()
	created := now
	var lastAnnounced sql.NullTime
	if existing != nil {
		created = existing.Created
		lastAnnounced = nullTime(existing.LastAnnounced)
	}

	query := fmt.Sprintf(`INSERT INTO valores (id, public_key, recipient, nonce, sequence_number, signature, data, persistent, owns_private_key, created, updated, last_announced)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (id) DO UPDATE SET
			public_key = excluded.public_key, recipient = excluded.recipient, nonce = excluded.nonce,
			sequence_number = excluded.sequence_number, signature = excluded.signature, data = excluded.data,
			persistent = excluded.persistent, owns_private_key = excluded.owns_private_key, updated = excluded.updated
		WHERE valores.sequence_number < excluded.sequence_number`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12))

	res, err := tx.ExecContext(ctx, query,
		id.Hex(), hexOrNil(value.PublicKey), hexOrNil(value.Recipient), hex.EncodeToString(value.Nonce[:]),
		value.SequenceNumber, hex.EncodeToString(value.Signature[:]), value.Data, persistent, ownsPrivateKey,
		created, now, lastAnnounced)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "upsert valores row")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 && existing != nil {
		// The sequence-number guard kept the stored row unchanged.
		return existing.Value, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "commit putValue transaction")
	}
	if s.metrics != nil {
		s.metrics.StoragePut("value")
	}
	return value, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) readValueEntryTx(ctx context.Context, tx querier, id kadid.Id) (*storage.ValueEntry, error) {
	query := fmt.Sprintf(`SELECT public_key, recipient, nonce, sequence_number, signature, data, persistent, owns_private_key, created, updated, last_announced FROM valores WHERE id = %s`, s.ph(1))
	row := tx.QueryRowContext(ctx, query, id.Hex())

	var (
		publicKey, recipient sql.NullString
		nonceHex, sigHex     string
		seq                  uint32
		data                 []byte
		persistent           bool
		ownsPrivateKey       bool
		created, updated     time.Time
		lastAnnounced        sql.NullTime
	)
	if err := row.Scan(&publicKey, &recipient, &nonceHex, &seq, &sigHex, &data, &persistent, &ownsPrivateKey, &created, &updated, &lastAnnounced); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "scan valores row")
	}

	return buildValueEntry(publicKey, recipient, nonceHex, seq, sigHex, data, persistent, ownsPrivateKey, created, updated, lastAnnounced)
}

func buildValueEntry(publicKey, recipient sql.NullString, nonceHex string, seq uint32, sigHex string, data []byte, persistent, ownsPrivateKey bool, created, updated time.Time, lastAnnounced sql.NullTime) (*storage.ValueEntry, error) {
	pk, err := parseHexId(publicKey)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "parse public_key")
	}
	rec, err := parseHexId(recipient)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "parse recipient")
	}
	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonceBytes) != xcrypto.NonceSize {
		return nil, dhterrors.New(dhterrors.KindDataStorageError, "malformed stored nonce")
	}
	var nonce [xcrypto.NonceSize]byte
	copy(nonce[:], nonceBytes)

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != 64 {
		return nil, dhterrors.New(dhterrors.KindDataStorageError, "malformed stored signature")
	}
	var sig [64]byte
	copy(sig[:], sigBytes)

	value := identity.ReconstructValue(pk, rec, nonce, seq, sig, data, rec != kadid.Zero)
	entry := &storage.ValueEntry{
		Value:          value,
		Persistent:     persistent,
		OwnsPrivateKey: ownsPrivateKey,
		Created:        created,
		Updated:        updated,
	}
	if lastAnnounced.Valid {
		entry.LastAnnounced = lastAnnounced.Time
	}
	return entry, nil
}

func (s *Store) GetValue(id kadid.Id) (*storage.ValueEntry, bool, error) {
	ctx := context.Background()
	entry, err := Submit(ctx, s.pool, func() (*storage.ValueEntry, error) {
		return s.readValueEntryTx(ctx, s.db, id)
	})
	if err != nil {
		return nil, false, err
	}
	if entry == nil || entry.Expired(time.Now(), defaultExpiration) {
		if s.metrics != nil {
			s.metrics.StorageGet("value", false)
		}
		return nil, false, nil
	}
	if s.metrics != nil {
		s.metrics.StorageGet("value", true)
	}
	return entry, true, nil
}

func (s *Store) UpdateValueAnnouncedTime(id kadid.Id, now time.Time) (time.Time, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (time.Time, error) {
		query := fmt.Sprintf(`UPDATE valores SET updated = %s, last_announced = %s WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3))
		if _, err := s.db.ExecContext(ctx, query, now, now, id.Hex()); err != nil {
			return time.Time{}, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "update valores announced time")
		}
		return now, nil
	})
}

func (s *Store) RemoveValue(id kadid.Id) (bool, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (bool, error) {
		query := fmt.Sprintf(`DELETE FROM valores WHERE id = %s`, s.ph(1))
		res, err := s.db.ExecContext(ctx, query, id.Hex())
		if err != nil {
			return false, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "delete valores row")
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	})
}

func (s *Store) GetValues(offset, limit int) ([]*storage.ValueEntry, error) {
	return s.queryValues(fmt.Sprintf(`SELECT public_key, recipient, nonce, sequence_number, signature, data, persistent, owns_private_key, created, updated, last_announced
		FROM valores ORDER BY updated DESC, id ASC LIMIT %s OFFSET %s`, s.ph(1), s.ph(2)), clampLimit(limit), offset)
}

func (s *Store) GetValuesFiltered(persistent bool, announcedBefore time.Time, offset, limit int) ([]*storage.ValueEntry, error) {
	return s.queryValues(fmt.Sprintf(`SELECT public_key, recipient, nonce, sequence_number, signature, data, persistent, owns_private_key, created, updated, last_announced
		FROM valores WHERE persistent = %s AND updated <= %s ORDER BY updated DESC, id ASC LIMIT %s OFFSET %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)), persistent, announcedBefore, clampLimit(limit), offset)
}

func (s *Store) queryValues(query string, args ...interface{}) ([]*storage.ValueEntry, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() ([]*storage.ValueEntry, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "query valores")
		}
		defer rows.Close()

		var out []*storage.ValueEntry
		for rows.Next() {
			var (
				publicKey, recipient sql.NullString
				nonceHex, sigHex     string
				seq                  uint32
				data                 []byte
				persistent           bool
				ownsPrivateKey       bool
				created, updated     time.Time
				lastAnnounced        sql.NullTime
			)
			if err := rows.Scan(&publicKey, &recipient, &nonceHex, &seq, &sigHex, &data, &persistent, &ownsPrivateKey, &created, &updated, &lastAnnounced); err != nil {
				return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "scan valores row")
			}
			entry, err := buildValueEntry(publicKey, recipient, nonceHex, seq, sigHex, data, persistent, ownsPrivateKey, created, updated, lastAnnounced)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
		return out, rows.Err()
	})
}

// ---- peers ----

func (s *Store) PutPeer(peer *identity.PeerInfo, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.PeerInfo, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (*identity.PeerInfo, error) {
		return s.putPeerTx(ctx, peer, persistent, ownsPrivateKey, expectedSequenceNumber)
	})
}

func (s *Store) putPeerTx(ctx context.Context, peer *identity.PeerInfo, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.PeerInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "begin putPeer transaction")
	}
	defer tx.Rollback()

	fingerprint := peer.Fingerprint()
	existing, err := s.readPeerEntryTx(ctx, tx, peer.PeerId, fingerprint)
	if err != nil {
		return nil, err
	}

	storeNew, err := storage.DecidePutPeer(existing, peer.SequenceNumber, ownsPrivateKey, expectedSequenceNumber)
	if err != nil {
		return nil, err
	}
	if !storeNew {
		if err := tx.Commit(); err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "commit putPeer (no-op)")
		}
		return existing.Peer, nil
	}

	now := time.Now().UTC()
	created := now
	var lastAnnounced sql.NullTime
	if existing != nil {
		created = existing.Created
		lastAnnounced = nullTime(existing.LastAnnounced)
	}

	query := fmt.Sprintf(`INSERT INTO peers (id, fingerprint, nonce, sequence_number, node_id, node_signature, signature, endpoint, extra, persistent, owns_private_key, created, updated, last_announced)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (id, fingerprint) DO UPDATE SET
			nonce = excluded.nonce, sequence_number = excluded.sequence_number, node_id = excluded.node_id,
			node_signature = excluded.node_signature, signature = excluded.signature, endpoint = excluded.endpoint,
			extra = excluded.extra, persistent = excluded.persistent, owns_private_key = excluded.owns_private_key,
			updated = excluded.updated
		WHERE peers.sequence_number < excluded.sequence_number`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14))

	res, err := tx.ExecContext(ctx, query,
		peer.PeerId.Hex(), int64(fingerprint), hex.EncodeToString(peer.Nonce[:]), peer.SequenceNumber,
		hexOrNil(peer.NodeId), hex.EncodeToString(peer.NodeSignature[:]), hex.EncodeToString(peer.PeerSignature[:]),
		peer.Endpoint, peer.ExtraData, persistent, ownsPrivateKey, created, now, lastAnnounced)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "upsert peers row")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 && existing != nil {
		// The sequence-number guard kept the stored row unchanged.
		return existing.Peer, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "commit putPeer transaction")
	}
	if s.metrics != nil {
		s.metrics.StoragePut("peer")
	}
	return peer, nil
}

func (s *Store) PutPeers(peers []*identity.PeerInfo, persistent, ownsPrivateKey bool) ([]*identity.PeerInfo, error) {
	out := make([]*identity.PeerInfo, 0, len(peers))
	for _, p := range peers {
		stored, err := s.PutPeer(p, persistent, ownsPrivateKey, nil)
		if err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "put peer batch")
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *Store) readPeerEntryTx(ctx context.Context, tx querier, id kadid.Id, fingerprint identity.Fingerprint) (*storage.PeerEntry, error) {
	query := fmt.Sprintf(`SELECT nonce, sequence_number, node_id, node_signature, signature, endpoint, extra, persistent, owns_private_key, created, updated, last_announced
		FROM peers WHERE id = %s AND fingerprint = %s`, s.ph(1), s.ph(2))
	row := tx.QueryRowContext(ctx, query, id.Hex(), int64(fingerprint))
	return scanPeerRow(row, id)
}

func scanPeerRow(row *sql.Row, id kadid.Id) (*storage.PeerEntry, error) {
	var (
		nonceHex, peerSigHex, nodeSigHex string
		seq                              uint32
		nodeId                           sql.NullString
		endpoint                         string
		extra                            []byte
		persistent, ownsPrivateKey       bool
		created, updated                 time.Time
		lastAnnounced                    sql.NullTime
	)
	if err := row.Scan(&nonceHex, &seq, &nodeId, &nodeSigHex, &peerSigHex, &endpoint, &extra, &persistent, &ownsPrivateKey, &created, &updated, &lastAnnounced); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "scan peers row")
	}
	return buildPeerEntry(id, nodeId, nonceHex, seq, nodeSigHex, peerSigHex, endpoint, extra, persistent, ownsPrivateKey, created, updated, lastAnnounced)
}

func buildPeerEntry(id kadid.Id, nodeId sql.NullString, nonceHex string, seq uint32, nodeSigHex, peerSigHex, endpoint string, extra []byte, persistent, ownsPrivateKey bool, created, updated time.Time, lastAnnounced sql.NullTime) (*storage.PeerEntry, error) {
	nodeIdVal, err := parseHexId(nodeId)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "parse node_id")
	}
	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonceBytes) != xcrypto.NonceSize {
		return nil, dhterrors.New(dhterrors.KindDataStorageError, "malformed stored peer nonce")
	}
	var nonce [xcrypto.NonceSize]byte
	copy(nonce[:], nonceBytes)

	peerSig, err := decodeSig(peerSigHex)
	if err != nil {
		return nil, err
	}
	nodeSig, err := decodeSig(nodeSigHex)
	if err != nil {
		return nil, err
	}

	peer := &identity.PeerInfo{
		PeerId:         id,
		NodeId:         nodeIdVal,
		Endpoint:       endpoint,
		ExtraData:      extra,
		Nonce:          nonce,
		SequenceNumber: seq,
		PeerSignature:  peerSig,
		NodeSignature:  nodeSig,
	}
	entry := &storage.PeerEntry{
		Peer:           peer,
		Persistent:     persistent,
		OwnsPrivateKey: ownsPrivateKey,
		Created:        created,
		Updated:        updated,
	}
	if lastAnnounced.Valid {
		entry.LastAnnounced = lastAnnounced.Time
	}
	return entry, nil
}

func decodeSig(s string) ([64]byte, error) {
	var sig [64]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 64 {
		return sig, dhterrors.New(dhterrors.KindDataStorageError, "malformed stored signature")
	}
	copy(sig[:], b)
	return sig, nil
}

func (s *Store) GetPeer(id kadid.Id, fingerprint identity.Fingerprint) (*storage.PeerEntry, bool, error) {
	ctx := context.Background()
	entry, err := Submit(ctx, s.pool, func() (*storage.PeerEntry, error) {
		return s.readPeerEntryTx(ctx, s.db, id, fingerprint)
	})
	if err != nil {
		return nil, false, err
	}
	if entry == nil || entry.Expired(time.Now(), defaultExpiration) {
		if s.metrics != nil {
			s.metrics.StorageGet("peer", false)
		}
		return nil, false, nil
	}
	if s.metrics != nil {
		s.metrics.StorageGet("peer", true)
	}
	return entry, true, nil
}

func (s *Store) GetPeers(id kadid.Id) ([]*storage.PeerEntry, error) {
	return s.queryPeers(fmt.Sprintf(`SELECT id, nonce, sequence_number, node_id, node_signature, signature, endpoint, extra, persistent, owns_private_key, created, updated, last_announced
		FROM peers WHERE id = %s ORDER BY updated DESC, fingerprint ASC`, s.ph(1)), id.Hex())
}

func (s *Store) GetPeersExpected(id kadid.Id, expectedSequenceNumber uint32, limit int) ([]*storage.PeerEntry, error) {
	return s.queryPeers(fmt.Sprintf(`SELECT id, nonce, sequence_number, node_id, node_signature, signature, endpoint, extra, persistent, owns_private_key, created, updated, last_announced
		FROM peers WHERE id = %s AND sequence_number = %s ORDER BY updated DESC, fingerprint ASC LIMIT %s`,
		s.ph(1), s.ph(2), s.ph(3)), id.Hex(), expectedSequenceNumber, clampLimit(limit))
}

func (s *Store) GetPeersFiltered(persistent bool, announcedBefore time.Time, offset, limit int) ([]*storage.PeerEntry, error) {
	return s.queryPeers(fmt.Sprintf(`SELECT id, nonce, sequence_number, node_id, node_signature, signature, endpoint, extra, persistent, owns_private_key, created, updated, last_announced
		FROM peers WHERE persistent = %s AND updated <= %s ORDER BY updated DESC, fingerprint ASC LIMIT %s OFFSET %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)), persistent, announcedBefore, clampLimit(limit), offset)
}

func (s *Store) queryPeers(query string, args ...interface{}) ([]*storage.PeerEntry, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() ([]*storage.PeerEntry, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "query peers")
		}
		defer rows.Close()

		var out []*storage.PeerEntry
		for rows.Next() {
			var idHex, nonceHex, nodeSigHex, peerSigHex, endpoint string
			var seq uint32
			var nodeId sql.NullString
			var extra []byte
			var persistent, ownsPrivateKey bool
			var created, updated time.Time
			var lastAnnounced sql.NullTime
			if err := rows.Scan(&idHex, &nonceHex, &seq, &nodeId, &nodeSigHex, &peerSigHex, &endpoint, &extra, &persistent, &ownsPrivateKey, &created, &updated, &lastAnnounced); err != nil {
				return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "scan peers row")
			}
			id, err := kadid.Parse(idHex)
			if err != nil {
				return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "parse peer id")
			}
			entry, err := buildPeerEntry(id, nodeId, nonceHex, seq, nodeSigHex, peerSigHex, endpoint, extra, persistent, ownsPrivateKey, created, updated, lastAnnounced)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
		return out, rows.Err()
	})
}

func (s *Store) RemovePeer(id kadid.Id, fingerprint identity.Fingerprint) (bool, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (bool, error) {
		query := fmt.Sprintf(`DELETE FROM peers WHERE id = %s AND fingerprint = %s`, s.ph(1), s.ph(2))
		res, err := s.db.ExecContext(ctx, query, id.Hex(), int64(fingerprint))
		if err != nil {
			return false, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "delete peers row")
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	})
}

func (s *Store) RemovePeers(id kadid.Id) (int, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (int, error) {
		query := fmt.Sprintf(`DELETE FROM peers WHERE id = %s`, s.ph(1))
		res, err := s.db.ExecContext(ctx, query, id.Hex())
		if err != nil {
			return 0, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "delete peers rows")
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	})
}

func (s *Store) UpdatePeerAnnouncedTime(id kadid.Id, fingerprint identity.Fingerprint, now time.Time) (time.Time, error) {
	ctx := context.Background()
	return Submit(ctx, s.pool, func() (time.Time, error) {
		query := fmt.Sprintf(`UPDATE peers SET updated = %s, last_announced = %s WHERE id = %s AND fingerprint = %s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
		if _, err := s.db.ExecContext(ctx, query, now, now, id.Hex(), int64(fingerprint)); err != nil {
			return time.Time{}, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "update peers announced time")
		}
		return now, nil
	})
}

type purgeResult struct {
	values, peers int
}

// Purge deletes expired non-persistent values, then expired non-persistent
// peers, in one transaction (spec §4.11).
func (s *Store) Purge(now time.Time, valueExpiration, peerExpiration time.Duration) (int, int, error) {
	ctx := context.Background()
	result, err := Submit(ctx, s.pool, func() (purgeResult, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return purgeResult{}, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "begin purge transaction")
		}
		defer tx.Rollback()

		removedValues, err := s.purgeValues(ctx, tx, now, valueExpiration)
		if err != nil {
			return purgeResult{}, err
		}
		removedPeers, err := s.purgePeers(ctx, tx, now, peerExpiration)
		if err != nil {
			return purgeResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return purgeResult{}, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "commit purge transaction")
		}
		return purgeResult{values: removedValues, peers: removedPeers}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	if s.metrics != nil {
		s.metrics.RecordPurge(result.values, result.peers)
	}
	return result.values, result.peers, nil
}

func (s *Store) purgeValues(ctx context.Context, tx *sql.Tx, now time.Time, expiration time.Duration) (int, error) {
	cutoff := now.Add(-expiration)
	query := fmt.Sprintf(`DELETE FROM valores WHERE persistent = false AND COALESCE(last_announced, updated) <= %s`, s.ph(1))
	res, err := tx.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "purge valores")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) purgePeers(ctx context.Context, tx *sql.Tx, now time.Time, expiration time.Duration) (int, error) {
	cutoff := now.Add(-expiration)
	query := fmt.Sprintf(`DELETE FROM peers WHERE persistent = false AND COALESCE(last_announced, updated) <= %s`, s.ph(1))
	res, err := tx.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "purge peers")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}

// Close releases the underlying *sql.DB.
func (s *Store) Close() error {
	return s.db.Close()
}
