// Package storage persists lots and accepted bids. The in-memory lot state
// is authoritative for arbitration; everything here is audit/recovery
// write-behind plus the one-shot configuration load at activation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/lot"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

// AuctionKoi mirrors the marketplace's auction_kois table.
type AuctionKoi struct {
	ID              int64  `gorm:"primaryKey;column:id"`
	AuctionID       int64  `gorm:"column:auction_id"`
	KoiID           int64  `gorm:"column:koi_id"`
	OwnerID         int64  `gorm:"column:owner_id"`
	BidMethod       string `gorm:"column:bid_method"`
	BasePrice       int64  `gorm:"column:base_price"`
	BidStep         int64  `gorm:"column:bid_step"`
	CeilingPrice    int64  `gorm:"column:ceiling_price"`
	CurrentBid      int64  `gorm:"column:current_bid"`
	CurrentBidderID *int64 `gorm:"column:current_bidder_id"`
	IsSold          bool   `gorm:"column:is_sold"`
	Status          string `gorm:"column:status"`
	StartsAt        time.Time
	ClosesAt        time.Time
}

func (AuctionKoi) TableName() string { return "auction_kois" }

// BidRow mirrors the marketplace's bids table.
type BidRow struct {
	ID           string    `gorm:"primaryKey;column:id"`
	AuctionKoiID int64     `gorm:"column:auction_koi_id;index"`
	BidderID     int64     `gorm:"column:bidder_id"`
	BidAmount    int64     `gorm:"column:bid_amount"`
	BidTime      time.Time `gorm:"column:bid_time"`
}

func (BidRow) TableName() string { return "bids" }

type DB struct {
	orm *gorm.DB
}

func Open(dsn string) (*DB, error) {
	orm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &DB{orm: orm}, nil
}

func (db *DB) Migrate() error {
	return db.orm.AutoMigrate(&AuctionKoi{}, &BidRow{})
}

// LoadLot reads a lot's bidding configuration. Satisfies hub.Source.
func (db *DB) LoadLot(ctx context.Context, lotID int64) (lot.Config, error) {
	var row AuctionKoi
	err := db.orm.WithContext(ctx).First(&row, "id = ?", lotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return lot.Config{}, hub.ErrLotNotFound
	}
	if err != nil {
		return lot.Config{}, err
	}
	return lot.Config{
		LotID:        row.ID,
		AuctionID:    row.AuctionID,
		KoiID:        row.KoiID,
		OwnerID:      row.OwnerID,
		Method:       types.BidMethod(row.BidMethod),
		BasePrice:    row.BasePrice,
		BidStep:      row.BidStep,
		CeilingPrice: row.CeilingPrice,
		StartsAt:     row.StartsAt,
		ClosesAt:     row.ClosesAt,
	}, nil
}

func (db *DB) saveBid(ctx context.Context, rec types.BidRecord) error {
	row := BidRow{
		ID:           rec.BidID,
		AuctionKoiID: rec.LotID,
		BidderID:     rec.BidderID,
		BidAmount:    rec.Amount,
		BidTime:      rec.AcceptedAt,
	}
	return db.orm.WithContext(ctx).Create(&row).Error
}

func (db *DB) saveLotState(ctx context.Context, s types.LotState) error {
	var bidder *int64
	if s.LeadingBidderID != 0 {
		b := s.LeadingBidderID
		bidder = &b
	}
	return db.orm.WithContext(ctx).Model(&AuctionKoi{}).
		Where("id = ?", s.LotID).
		Updates(map[string]any{
			"current_bid":       s.CurrentBid,
			"current_bidder_id": bidder,
			"is_sold":           s.Status == types.StatusSold,
			"status":            string(s.Status),
			"closes_at":         s.ClosesAt,
		}).Error
}
