package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MemberStore persists members in the members table. Loans are not part of
// the row; the ledger holds them.
type MemberStore struct {
	db *Database
}

func NewMemberStore(db *Database) *MemberStore {
	return &MemberStore{db: db}
}

func (s *MemberStore) SaveAll(ctx context.Context, members []Member) error {
	q := s.db.conn(ctx)
	var errs []error
	for _, m := range members {
		if err := upsertMember(ctx, q, m); err != nil {
			errs = append(errs, fmt.Errorf("member %d: %w", m.ID, err))
		}
	}
	if len(errs) > 0 {
		return storageErr("save members", errors.Join(errs...))
	}
	return nil
}

func upsertMember(ctx context.Context, q querier, m Member) error {
	// balance is a REAL column; amounts are kept to the cent.
	balance := m.Balance.Round(2).InexactFloat64()
	res, err := q.ExecContext(ctx,
		`UPDATE members SET name=?, password=?, balance=? WHERE id=?`,
		m.Name, m.Password, balance, m.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO members(id,name,password,balance) VALUES(?,?,?,?)`,
		m.ID, m.Name, m.Password, balance)
	return err
}

func (s *MemberStore) ReadAll(ctx context.Context) ([]Member, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, `SELECT id,name,password,balance FROM members ORDER BY id`)
	if err != nil {
		return nil, storageErr("read members", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, storageErr("read members", err)
		}
		members = append(members, m)
	}
	return members, storageErr("read members", rows.Err())
}

func (s *MemberStore) FindByID(ctx context.Context, id int64) (Member, bool, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx, `SELECT id,name,password,balance FROM members WHERE id=?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, storageErr("find member", err)
	}
	return m, true, nil
}

func (s *MemberStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.db.conn(ctx).ExecContext(ctx, `DELETE FROM members WHERE id=?`, id)
	return storageErr("delete member", err)
}

func scanMember(r rowScanner) (Member, error) {
	var (
		m       Member
		balance float64
	)
	if err := r.Scan(&m.ID, &m.Name, &m.Password, &balance); err != nil {
		return Member{}, err
	}
	m.SetBalance(decimal.NewFromFloat(balance).Round(2))
	return m, nil
}
