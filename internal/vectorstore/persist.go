package vectorstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"skb/internal/skberr"
	"skb/internal/storage"
)

// persister is the durable tier. Raw source excerpts are
// zstd-compressed; descriptions and vectors stay plain because they
// are read on every scan.
type persister struct {
	db         *storage.DB
	projectKey string
	enc        *zstd.Encoder
	dec        *zstd.Decoder
}

func newPersister(db *storage.DB, projectKey string) (*persister, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, skberr.Wrap(skberr.Internal, "failed to create zstd encoder", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, skberr.Wrap(skberr.Internal, "failed to create zstd decoder", err)
	}
	return &persister{db: db, projectKey: projectKey, enc: enc, dec: dec}, nil
}

// upsertFile replaces all fragments of a file in one transaction:
// delete everything under the path, then insert the new set. There is
// no window where old and new fragments coexist.
func (p *persister) upsertFile(filePath string, fragments []Fragment) error {
	err := p.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"DELETE FROM fragments WHERE project_key = ? AND file_path = ?",
			p.projectKey, filePath); err != nil {
			return err
		}
		for _, f := range fragments {
			tags, err := json.Marshal(f.Tags)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO fragments (id, project_key, file_path, kind, title, content, raw, tags, vector, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, p.projectKey, f.FilePath, string(f.Kind), f.Title, f.Content,
				p.enc.EncodeAll([]byte(f.Raw), nil),
				string(tags),
				encodeVector(f.Vector),
				f.UpdatedAt.Unix()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to persist fragments for %s", filePath), err)
	}
	return nil
}

// upsert replaces a single fragment: delete by id, then insert
func (p *persister) upsert(f Fragment) error {
	err := p.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM fragments WHERE id = ?", f.ID); err != nil {
			return err
		}
		tags, err := json.Marshal(f.Tags)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO fragments (id, project_key, file_path, kind, title, content, raw, tags, vector, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, p.projectKey, f.FilePath, string(f.Kind), f.Title, f.Content,
			p.enc.EncodeAll([]byte(f.Raw), nil),
			string(tags),
			encodeVector(f.Vector),
			f.UpdatedAt.Unix())
		return err
	})
	if err != nil {
		return skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to persist fragment %s", f.ID), err)
	}
	return nil
}

func (p *persister) deleteByID(id string) error {
	_, err := p.db.Exec("DELETE FROM fragments WHERE id = ?", id)
	if err != nil {
		return skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to delete fragment %s", id), err)
	}
	return nil
}

func (p *persister) deleteFile(filePath string) error {
	_, err := p.db.Exec(
		"DELETE FROM fragments WHERE project_key = ? AND file_path = ?",
		p.projectKey, filePath)
	if err != nil {
		return skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to delete fragments for %s", filePath), err)
	}
	return nil
}

// loadAll reads every fragment of the project, used to rebuild the
// memory tiers
func (p *persister) loadAll() ([]Fragment, error) {
	rows, err := p.db.Query(
		`SELECT id, file_path, kind, title, content, raw, tags, vector, updated_at
		 FROM fragments WHERE project_key = ?`, p.projectKey)
	if err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "failed to load fragments", err)
	}
	defer func() { _ = rows.Close() }()

	var fragments []Fragment
	for rows.Next() {
		var (
			f         Fragment
			kind      string
			raw       []byte
			tags      string
			vector    []byte
			updatedAt int64
		)
		if err := rows.Scan(&f.ID, &f.FilePath, &kind, &f.Title, &f.Content, &raw, &tags, &vector, &updatedAt); err != nil {
			return nil, skberr.Wrap(skberr.StoreIO, "failed to scan fragment row", err)
		}
		decoded, err := p.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to decompress fragment %s", f.ID), err)
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
				return nil, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to decode tags of fragment %s", f.ID), err)
			}
		}
		f.ProjectKey = p.projectKey
		f.Kind = Kind(kind)
		f.Raw = string(decoded)
		f.Vector = decodeVector(vector)
		f.UpdatedAt = time.Unix(updatedAt, 0)
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "failed to iterate fragments", err)
	}
	return fragments, nil
}

func (p *persister) count() (int, error) {
	var n int
	err := p.db.QueryRow(
		"SELECT COUNT(*) FROM fragments WHERE project_key = ?", p.projectKey).Scan(&n)
	if err != nil {
		return 0, skberr.Wrap(skberr.StoreIO, "failed to count fragments", err)
	}
	return n, nil
}
