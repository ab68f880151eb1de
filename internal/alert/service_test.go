package alert

import (
	"context"
	"errors"
	"testing"

	"pulsewatch.dev/pulsewatch/internal/db"
)

func floatPtr(v float64) *float64 { return &v }

// recordingTx captures the statements issued through it and can fail chosen
// ones, standing in for a real transaction in savepoint tests.
type recordingTx struct {
	executed []string
	failOn   map[string]error
}

func (t *recordingTx) QueryRow(ctx context.Context, query string, args ...any) *db.Row {
	return &db.Row{}
}

func (t *recordingTx) Query(ctx context.Context, query string, args ...any) (*db.Rows, error) {
	return nil, nil
}

func (t *recordingTx) Exec(ctx context.Context, query string, args ...any) (db.CommandTag, error) {
	t.executed = append(t.executed, query)
	if err := t.failOn[query]; err != nil {
		return db.CommandTag{}, err
	}
	return db.CommandTag{}, nil
}

func (t *recordingTx) Commit(ctx context.Context) error   { return nil }
func (t *recordingTx) Rollback(ctx context.Context) error { return nil }

func TestWithRuleSavepointReleasesOnSuccess(t *testing.T) {
	t.Parallel()

	tx := &recordingTx{}
	fnErr, txErr := withRuleSavepoint(context.Background(), tx, func() error { return nil })
	if fnErr != nil || txErr != nil {
		t.Fatalf("unexpected errors: %v %v", fnErr, txErr)
	}
	if len(tx.executed) != 2 || tx.executed[0] != "SAVEPOINT rule_eval" || tx.executed[1] != "RELEASE SAVEPOINT rule_eval" {
		t.Fatalf("unexpected statements: %v", tx.executed)
	}
}

func TestWithRuleSavepointRollsBackFailedRule(t *testing.T) {
	t.Parallel()

	tx := &recordingTx{}
	ruleErr := errors.New("column does not exist")
	fnErr, txErr := withRuleSavepoint(context.Background(), tx, func() error { return ruleErr })
	if txErr != nil {
		t.Fatalf("a rule error must not poison the transaction: %v", txErr)
	}
	if !errors.Is(fnErr, ruleErr) {
		t.Fatalf("expected the rule error back, got %v", fnErr)
	}
	if len(tx.executed) != 2 || tx.executed[1] != "ROLLBACK TO SAVEPOINT rule_eval" {
		t.Fatalf("expected rollback to the savepoint, got %v", tx.executed)
	}
}

func TestWithRuleSavepointReportsMachineryFailure(t *testing.T) {
	t.Parallel()

	spErr := errors.New("connection reset")
	tx := &recordingTx{failOn: map[string]error{"SAVEPOINT rule_eval": spErr}}
	called := false
	fnErr, txErr := withRuleSavepoint(context.Background(), tx, func() error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("fn must not run when the savepoint cannot be created")
	}
	if fnErr != nil || !errors.Is(txErr, spErr) {
		t.Fatalf("unexpected errors: %v %v", fnErr, txErr)
	}

	rollbackErr := errors.New("tx is gone")
	tx = &recordingTx{failOn: map[string]error{"ROLLBACK TO SAVEPOINT rule_eval": rollbackErr}}
	ruleErr := errors.New("bad rule")
	fnErr, txErr = withRuleSavepoint(context.Background(), tx, func() error { return ruleErr })
	if !errors.Is(fnErr, ruleErr) || !errors.Is(txErr, rollbackErr) {
		t.Fatalf("unexpected errors: %v %v", fnErr, txErr)
	}
}

func TestParseRuleConditions(t *testing.T) {
	t.Parallel()

	if got := parseRuleConditions(nil); got.MaxSentiment != nil {
		t.Fatalf("expected no conditions for empty input: %+v", got)
	}
	if got := parseRuleConditions([]byte(`null`)); got.MaxSentiment != nil {
		t.Fatalf("expected no conditions for null input: %+v", got)
	}
	if got := parseRuleConditions([]byte(`not json`)); got.MaxSentiment != nil {
		t.Fatalf("expected malformed conditions ignored: %+v", got)
	}

	got := parseRuleConditions([]byte(`{"max_sentiment": -0.5}`))
	if got.MaxSentiment == nil || *got.MaxSentiment != -0.5 {
		t.Fatalf("unexpected conditions: %+v", got)
	}
}

func TestRateFired(t *testing.T) {
	t.Parallel()

	if !RateFired(5, 5) {
		t.Fatalf("expected rate alert at exactly the threshold")
	}
	if !RateFired(6, 5) {
		t.Fatalf("expected rate alert above the threshold")
	}
	if RateFired(4, 5) {
		t.Fatalf("did not expect rate alert below the threshold")
	}
}

func TestSentimentFired(t *testing.T) {
	t.Parallel()

	if !SentimentFired(floatPtr(-0.8), -0.5) {
		t.Fatalf("expected sentiment alert for score below threshold")
	}
	if !SentimentFired(floatPtr(-0.5), -0.5) {
		t.Fatalf("expected sentiment alert at exactly the threshold")
	}
	if SentimentFired(floatPtr(0.2), -0.5) {
		t.Fatalf("did not expect sentiment alert for positive score")
	}
	if SentimentFired(nil, -0.5) {
		t.Fatalf("did not expect sentiment alert for unscored mention")
	}
}

func TestPriorityFired(t *testing.T) {
	t.Parallel()

	if !PriorityFired(floatPtr(0.9), 0.8) {
		t.Fatalf("expected priority alert above the threshold")
	}
	if !PriorityFired(floatPtr(0.8), 0.8) {
		t.Fatalf("expected priority alert at exactly the threshold")
	}
	if PriorityFired(floatPtr(0.5), 0.8) {
		t.Fatalf("did not expect priority alert below the threshold")
	}
	if PriorityFired(nil, 0.8) {
		t.Fatalf("did not expect priority alert for unscored mention")
	}
}

func TestSeverityPriority(t *testing.T) {
	t.Parallel()

	if got := SeverityPriority("critical"); got != 3 {
		t.Fatalf("unexpected priority for critical: %d", got)
	}
	if got := SeverityPriority(" HIGH "); got != 2 {
		t.Fatalf("unexpected priority for high: %d", got)
	}
	if got := SeverityPriority("medium"); got != 1 {
		t.Fatalf("unexpected priority for medium: %d", got)
	}
	if got := SeverityPriority("low"); got != 0 {
		t.Fatalf("unexpected priority for low: %d", got)
	}
	if got := SeverityPriority("bogus"); got != 0 {
		t.Fatalf("unexpected priority for unknown severity: %d", got)
	}
}
