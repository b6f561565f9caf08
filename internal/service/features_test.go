package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/payment"
	"peerlend-backend/internal/service"
)

type custodyContext struct {
	f       *fixture
	tx      *domain.Transaction
	lastErr error
	result  service.ScanResult
}

func (c *custodyContext) reset() {
	c.f = newFixture()
	c.tx = nil
	c.lastErr = nil
	c.result = service.ScanResult{}
}

func (c *custodyContext) actor(who string) string {
	switch who {
	case "borrower":
		return borrowerID
	case "lender":
		return lenderID
	default:
		return strangerID
	}
}

func (c *custodyContext) aLenderListing(category string, value int) error {
	it := c.f.item(itemID)
	if string(it.Category) != category || it.ValuePaise != domain.ToPaise(int64(value)) {
		return fmt.Errorf("seeded item is a %s worth %d paise", it.Category, it.ValuePaise)
	}
	return nil
}

func (c *custodyContext) aBorrowerWithTrust(score int) error {
	if got := c.f.user(borrowerID).Trust.Score; got != score {
		return fmt.Errorf("seeded borrower has trust %d, want %d", got, score)
	}
	return nil
}

func (c *custodyContext) borrowerRequests(hours int) error {
	in := c.f.input()
	in.ExpectedReturn = in.BorrowStart.Add(time.Duration(hours) * time.Hour)
	tx, err := c.f.svc.Create(context.Background(), in)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *custodyContext) scansHandoff(who string, hours int) error {
	c.f.clock.Set(t0.Add(time.Duration(hours) * time.Hour))
	_, c.result, c.lastErr = c.f.svc.VerifyHandoff(context.Background(), c.tx.ID, c.actor(who), c.tx.HandoffToken.Encoded)
	return nil
}

func (c *custodyContext) scansFreshReturn(who string, hours int) error {
	ctx := context.Background()
	at := t0.Add(time.Duration(hours) * time.Hour)
	c.f.clock.Set(at.Add(-10 * time.Minute))
	_, token, err := c.f.svc.ReissueToken(ctx, c.tx.ID, c.actor(who), domain.TokenTypeReturn)
	if err != nil {
		return err
	}
	c.f.clock.Set(at)
	_, c.result, c.lastErr = c.f.svc.VerifyReturn(ctx, c.tx.ID, c.actor(who), token)
	return c.lastErr
}

func (c *custodyContext) nextChargeDeclined() error {
	c.f.gw.FailNext("charge", payment.ErrDeclined)
	return nil
}

func (c *custodyContext) cancels(who string) error {
	_, c.lastErr = c.f.svc.Cancel(context.Background(), c.tx.ID, c.actor(who), "feature")
	return nil
}

func (c *custodyContext) reports(who, category string) error {
	_, err := c.f.svc.ReportIssue(context.Background(), c.tx.ID, c.actor(who), service.IssueInput{
		Category:    domain.IssueCategory(category),
		Description: "reported in scenario",
	})
	return err
}

func (c *custodyContext) transactionIs(status string) error {
	if got := c.f.stored(c.tx.ID).Status; string(got) != status {
		return fmt.Errorf("transaction is %q, want %q", got, status)
	}
	return nil
}

func (c *custodyContext) lateFeeIs(status string) error {
	if got := c.f.stored(c.tx.ID).LateFeeStatus; string(got) != status {
		return fmt.Errorf("late fee is %q, want %q", got, status)
	}
	return nil
}

func (c *custodyContext) amountHeld(paise int64) error {
	if c.tx.PreAuthAmountPaise != paise {
		return fmt.Errorf("held %d, want %d", c.tx.PreAuthAmountPaise, paise)
	}
	return nil
}

func (c *custodyContext) movementOf(op string, paise int64) error {
	for _, m := range c.f.movements(op) {
		if m.Amount == paise {
			return nil
		}
	}
	return fmt.Errorf("no %s of %d paise in %+v", op, paise, c.f.gw.Movements())
}

func (c *custodyContext) amountCaptured(paise int64) error { return c.movementOf("capture", paise) }
func (c *custodyContext) lateFeeCharged(paise int64) error { return c.movementOf("charge", paise) }

func (c *custodyContext) lenderReceives(paise int64) error {
	for _, m := range c.f.movements("transfer") {
		if m.Destination == lenderID && m.Amount == paise {
			return nil
		}
	}
	return fmt.Errorf("lender was not paid %d paise", paise)
}

func (c *custodyContext) trustScoreIs(score int) error {
	if got := c.f.user(borrowerID).Trust.Score; got != score {
		return fmt.Errorf("trust score %d, want %d", got, score)
	}
	return nil
}

func (c *custodyContext) itemAvailable() error {
	if !c.f.item(c.tx.ItemID).IsAvailable {
		return fmt.Errorf("item %s is still reserved", c.tx.ItemID)
	}
	return nil
}

func (c *custodyContext) holdIs(status string) error {
	if got := c.f.gw.HoldStatus(c.tx.PaymentHoldID); got != payment.Status(status) {
		return fmt.Errorf("hold is %q, want %q", got, status)
	}
	return nil
}

func (c *custodyContext) alreadyProcessed() error {
	if c.lastErr != nil {
		return c.lastErr
	}
	if !c.result.AlreadyProcessed {
		return fmt.Errorf("scan was treated as new")
	}
	return nil
}

func (c *custodyContext) failsWith(code string) error {
	if got := domain.CodeOf(c.lastErr); string(got) != code {
		return fmt.Errorf("got %q (%v), want %q", got, c.lastErr, code)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	c := &custodyContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return ctx, nil
	})

	ctx.Step(`^a lender listing a "([^"]*)" worth (\d+)$`, c.aLenderListing)
	ctx.Step(`^a borrower with trust score (\d+)$`, c.aBorrowerWithTrust)
	ctx.Step(`^the borrower requests the item for (\d+) hours$`, c.borrowerRequests)
	ctx.Step(`^(?:the |a )?(borrower|lender|stranger) scans the handoff token after (\d+) hours?$`, c.scansHandoff)
	ctx.Step(`^the (borrower|lender) scans a fresh return token after (\d+) hours$`, c.scansFreshReturn)
	ctx.Step(`^the borrower's card declines the next charge$`, c.nextChargeDeclined)
	ctx.Step(`^the (borrower|lender) cancels the transaction$`, c.cancels)
	ctx.Step(`^the (borrower|lender) reports "([^"]*)"$`, c.reports)
	ctx.Step(`^the transaction is "([^"]*)"$`, c.transactionIs)
	ctx.Step(`^(\d+) paise are held on the borrower$`, c.amountHeld)
	ctx.Step(`^(\d+) paise are captured$`, c.amountCaptured)
	ctx.Step(`^a late fee of (\d+) paise is charged$`, c.lateFeeCharged)
	ctx.Step(`^the late fee is "([^"]*)"$`, c.lateFeeIs)
	ctx.Step(`^the lender receives (\d+) paise$`, c.lenderReceives)
	ctx.Step(`^the borrower's trust score is (\d+)$`, c.trustScoreIs)
	ctx.Step(`^the item is available again$`, c.itemAvailable)
	ctx.Step(`^the hold is "([^"]*)"$`, c.holdIs)
	ctx.Step(`^the scan is reported as already processed$`, c.alreadyProcessed)
	ctx.Step(`^the (?:scan|request) fails with "([^"]*)"$`, c.failsWith)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/custody.feature"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
