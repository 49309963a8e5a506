package credit

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" gorm/database/sql driver
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

// txRow is the gorm model backing CreditTransaction, grounded on the
// teacher's storage/database pluggable-backend shape but using a relational
// engine here so spend() gets a real row-level transaction.
type txRow struct {
	TxID          string `gorm:"primary_key"`
	AccountID     string `gorm:"index"`
	Type          string
	Credits       float64
	Reason        string
	RelatedTaskID string
	RelatedTxID   string
	TimestampMs   int64
}

func (txRow) TableName() string { return "credit_transactions" }

type reportRow struct {
	ReportID string `gorm:"primary_key"`
}

func (reportRow) TableName() string { return "credit_reports" }

// accountLockRow exists purely to give SELECT ... FOR UPDATE a row to match
// for an account with no transaction history yet; see WithAccountLock.
type accountLockRow struct {
	AccountID string `gorm:"primary_key"`
}

func (accountLockRow) TableName() string { return "credit_account_locks" }

// GormLedger persists the ledger in a relational database via jinzhu/gorm,
// wired to MySQL via go-sql-driver/mysql. Used when a DSN is configured;
// otherwise the engine defaults to MemoryLedger (spec §6).
type GormLedger struct {
	db *gorm.DB
}

// OpenGormLedger opens (and migrates) a MySQL-backed ledger.
func OpenGormLedger(dsn string) (*GormLedger, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "credit: open mysql ledger")
	}
	if err := db.AutoMigrate(&txRow{}, &reportRow{}, &accountLockRow{}).Error; err != nil {
		return nil, errors.Wrap(err, "credit: migrate ledger schema")
	}
	return &GormLedger{db: db}, nil
}

func (l *GormLedger) Close() error { return l.db.Close() }

// WithAccountLock wraps fn in a database transaction and hands fn a ledger
// bound to that transaction's handle, so the balance read and the append it
// guards execute as one unit of work; MySQL row locking on the account's
// rows provides the cross-process serialisation spec §5 requires (in
// addition to this package's own in-process callers always being serialised
// through Engine's account-keyed mutex).
func (l *GormLedger) WithAccountLock(accountID string, fn func(Ledger) error) error {
	tx := l.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	// A dedicated lock row per account (created on first touch, below) gives
	// FOR UPDATE something to match even for a brand-new account with no
	// transactions yet; without it a fresh account acquires no lock and two
	// concurrent spends can race through their balance check.
	if err := tx.Exec("INSERT IGNORE INTO credit_account_locks (account_id) VALUES (?)", accountID).Error; err != nil {
		tx.Rollback()
		return errors.Wrap(err, "credit: seed account lock row")
	}
	if err := tx.Raw("SELECT account_id FROM credit_account_locks WHERE account_id = ? FOR UPDATE", accountID).Row().Scan(new(string)); err != nil && err != sql.ErrNoRows {
		tx.Rollback()
		return errors.Wrap(err, "credit: lock account row")
	}

	txLedger := &GormLedger{db: tx}
	if err := fn(txLedger); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (l *GormLedger) Append(tx domain.CreditTransaction) error {
	row := txRow{
		TxID:          tx.TxID,
		AccountID:     tx.AccountID,
		Type:          string(tx.Type),
		Credits:       tx.Credits,
		Reason:        tx.Reason,
		RelatedTaskID: tx.RelatedTaskID,
		RelatedTxID:   tx.RelatedTxID,
		TimestampMs:   tx.TimestampMs,
	}
	return l.db.Create(&row).Error
}

func (l *GormLedger) History(accountID string) ([]domain.CreditTransaction, error) {
	var rows []txRow
	if err := l.db.Where("account_id = ?", accountID).Order("timestamp_ms asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CreditTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.CreditTransaction{
			TxID:          r.TxID,
			AccountID:     r.AccountID,
			Type:          domain.TxType(r.Type),
			Credits:       r.Credits,
			Reason:        r.Reason,
			RelatedTaskID: r.RelatedTaskID,
			RelatedTxID:   r.RelatedTxID,
			TimestampMs:   r.TimestampMs,
		})
	}
	return out, nil
}

func (l *GormLedger) HasReport(reportID string) (bool, error) {
	var count int
	err := l.db.Model(&reportRow{}).Where("report_id = ?", reportID).Count(&count).Error
	return count > 0, err
}

func (l *GormLedger) MarkReport(reportID string) error {
	return l.db.Create(&reportRow{ReportID: reportID}).Error
}
