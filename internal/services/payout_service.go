package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/tapsakay/backend/internal/models"
)

const payoutPageSize = 200

// PayoutService turns a driver's accumulated fare credits into an ISO 20022
// pacs.008 credit transfer for bank settlement. The wallet stays closed
// loop; this is its export edge.
type PayoutService struct {
	ledger   LedgerStore
	accounts AccountStore
	currency string
}

func NewPayoutService(ledger LedgerStore, accounts AccountStore, currency string) *PayoutService {
	if currency == "" {
		currency = "PHP"
	}
	return &PayoutService{ledger: ledger, accounts: accounts, currency: currency}
}

// PayoutRequest selects which earnings to export and where to send them.
type PayoutRequest struct {
	DriverOwnerID string    `json:"driver_owner_id" validate:"required"`
	BankCode      string    `json:"bank_code" validate:"required,max=11"`
	BankAccount   string    `json:"bank_account" validate:"required,max=34"`
	Since         time.Time `json:"since"`
}

// PayoutBatch is the computed export.
type PayoutBatch struct {
	PayoutID    string `json:"payout_id"`
	TotalAmount int64  `json:"total_amount"` // minor units
	EntryCount  int    `json:"entry_count"`
	Message     *pacs_v08.FIToFICustomerCreditTransferV08
}

// BuildPayout aggregates the driver's applied fare shares since the cursor
// into a single pacs.008 message.
func (s *PayoutService) BuildPayout(ctx context.Context, req *PayoutRequest) (*PayoutBatch, error) {
	driverAccount, err := s.accounts.GetByOwner(ctx, req.DriverOwnerID, models.RoleDriver)
	if err != nil {
		return nil, err
	}

	var total int64
	var count int
	var cursor time.Time
	var cursorID string
	for {
		entries, err := s.ledger.ListByOwner(ctx, req.DriverOwnerID, payoutPageSize, cursor, cursorID)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if entry.Kind != models.EntryKindFare || entry.Status != models.EntryStatusApplied {
				continue
			}
			if entry.DestAccount != driverAccount.AccountID {
				continue
			}
			if !req.Since.IsZero() && !entry.CreatedAt.After(req.Since) {
				continue
			}
			total += entry.DriverShare()
			count++
		}

		last := entries[len(entries)-1]
		if len(entries) < payoutPageSize {
			break
		}
		// pages are newest first; once past the since cursor everything
		// older is excluded anyway
		if !req.Since.IsZero() && !last.CreatedAt.After(req.Since) {
			break
		}
		cursor, cursorID = last.CreatedAt, last.EntryID
	}

	if total <= 0 {
		return nil, fmt.Errorf("driver %s: %w", req.DriverOwnerID, ErrNothingToPayout)
	}

	payoutID := uuid.New().String()
	doc := s.createPacs008(payoutID, req, driverAccount, total)

	return &PayoutBatch{
		PayoutID:    payoutID,
		TotalAmount: total,
		EntryCount:  count,
		Message:     doc,
	}, nil
}

func (s *PayoutService) createPacs008(payoutID string, req *PayoutRequest, driver *models.Account, totalMinor int64) *pacs_v08.FIToFICustomerCreditTransferV08 {
	now := time.Now()
	amount := float64(totalMinor) / 100

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(payoutID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(s.currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(payoutID)}[0],
					EndToEndId: common.Max35Text("PAYOUT-" + driver.OwnerID),
					TxId:       &[]common.Max35Text{common.Max35Text(payoutID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(s.currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("TAPSAKAY")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("TapSakay Platform")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(req.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.BankAccount)}[0],
				},
			},
		},
	}
}

// ConvertToXML renders the message as an XML document.
func (s *PayoutService) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// SendToSettlement hands the message to the settlement rail.
func (s *PayoutService) SendToSettlement(doc any) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: wire the partner bank's submission endpoint once credentials exist
	log.Printf("[PAYOUT] Sending to settlement: %d bytes", len(xmlData))
	return nil
}
