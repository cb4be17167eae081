package domain

import "time"

// VoucherState is derived from the clock and remaining stock; it is never
// persisted.
type VoucherState string

const (
	VoucherPending VoucherState = "PENDING"
	VoucherOpen    VoucherState = "OPEN"
	VoucherSoldOut VoucherState = "SOLD_OUT"
	VoucherClosed  VoucherState = "CLOSED"
)

// Terminal reports whether no new claims can succeed in this state.
func (s VoucherState) Terminal() bool {
	return s == VoucherSoldOut || s == VoucherClosed
}

// SeckillVoucher is a stock-limited, time-boxed voucher. Stock is owned by the
// source of truth; the allocation core only reads it and issues conditional
// decrements.
type SeckillVoucher struct {
	VoucherID  int64     `json:"voucherId"`
	Stock      int       `json:"stock"`
	BeginTime  time.Time `json:"beginTime"`
	EndTime    time.Time `json:"endTime"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// InWindow reports whether now falls inside [BeginTime, EndTime).
func (v *SeckillVoucher) InWindow(now time.Time) bool {
	return !now.Before(v.BeginTime) && now.Before(v.EndTime)
}

// State derives the lifecycle state at now. Closed wins over sold out so a
// voucher past its window always reads as closed.
func (v *SeckillVoucher) State(now time.Time) VoucherState {
	switch {
	case now.Before(v.BeginTime):
		return VoucherPending
	case !now.Before(v.EndTime):
		return VoucherClosed
	case v.Stock <= 0:
		return VoucherSoldOut
	default:
		return VoucherOpen
	}
}

// Validate checks the invariants required before a voucher is persisted.
func (v *SeckillVoucher) Validate() error {
	if v.VoucherID <= 0 || v.Stock < 0 {
		return ErrInvalidInput
	}
	if !v.EndTime.After(v.BeginTime) {
		return ErrInvalidInput
	}
	return nil
}

// VoucherOrder records one successful claim. At most one exists per
// (UserID, VoucherID).
type VoucherOrder struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	VoucherID  int64     `json:"voucherId"`
	CreateTime time.Time `json:"createTime"`
}
