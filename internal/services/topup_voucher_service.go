package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/tapsakay/backend/internal/config"
	"github.com/tapsakay/backend/internal/models"
)

// TopupVoucherService issues QR top-up vouchers for kiosk payments. A
// voucher pins owner and amount under a single-use nonce; redeeming it runs
// an ordinary top-up settlement with the nonce as idempotency key, so a
// double scan can only apply once.
type TopupVoucherService struct {
	redis    *redis.Client
	accounts AccountStore
	engine   *SettlementEngine
	timeout  time.Duration
}

type voucherClaims struct {
	OwnerID  string `json:"owner_id"`
	Amount   int64  `json:"amount"`
	Nonce    string `json:"nonce"`
	IssuedAt int64  `json:"issued_at"`
}

func NewTopupVoucherService(rdb *redis.Client, accounts AccountStore, engine *SettlementEngine, cfg *config.SettlementConfig) *TopupVoucherService {
	return &TopupVoucherService{
		redis:    rdb,
		accounts: accounts,
		engine:   engine,
		timeout:  cfg.VoucherTimeout,
	}
}

// GenerateVoucher mints a voucher code and its QR image (base64 PNG).
func (s *TopupVoucherService) GenerateVoucher(ctx context.Context, ownerID string, amount int64) (string, string, error) {
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}
	if s.redis == nil {
		return "", "", fmt.Errorf("voucher service unavailable: redis not configured")
	}

	claims := voucherClaims{
		OwnerID:  ownerID,
		Amount:   amount,
		Nonce:    generateNonce(),
		IssuedAt: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(claims)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("voucher:%s", claims.Nonce)
	if err := s.redis.Set(ctx, key, jsonData, s.timeout).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RedeemVoucher validates the voucher and settles the top-up against the
// owner's passenger account.
func (s *TopupVoucherService) RedeemVoucher(ctx context.Context, code string) (*TopupResult, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("voucher service unavailable: redis not configured")
	}

	jsonData, err := base64.URLEncoding.DecodeString(code)
	if err != nil {
		return nil, ErrVoucherInvalid
	}
	var claims voucherClaims
	if err := json.Unmarshal(jsonData, &claims); err != nil || claims.Nonce == "" {
		return nil, ErrVoucherInvalid
	}

	key := fmt.Sprintf("voucher:%s", claims.Nonce)
	stored, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrVoucherInvalid
	}
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(stored, jsonData) {
		return nil, ErrVoucherInvalid
	}

	account, err := s.accounts.GetByOwner(ctx, claims.OwnerID, models.RolePassenger)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.SettleTopup(ctx, account.AccountID, claims.Amount, "voucher:"+claims.Nonce)
	if err != nil {
		return nil, err
	}

	// Single use: the ledger key already guards replays, this just stops
	// the code circulating after redemption.
	s.redis.Del(ctx, key)

	return result, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
