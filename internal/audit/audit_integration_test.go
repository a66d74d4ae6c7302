package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/cryptofunk/internal/audit"
	"github.com/ajitpratap0/cryptofunk/internal/db/testhelpers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_PersistEvent(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	event := &audit.Event{
		EventType: audit.EventTypeStrategyRun,
		Severity:  audit.SeverityInfo,
		UserID:    "user123",
		IPAddress: "192.168.1.1",
		UserAgent: "Mozilla/5.0",
		Resource:  "strategy-456",
		Action:    "Strategy run",
		Success:   true,
		RequestID: "req-789",
		Duration:  150,
		Metadata: map[string]interface{}{
			"symbols": []interface{}{"AAPL"},
			"run_id":  float64(42),
		},
	}

	err = logger.Log(ctx, event)
	require.NoError(t, err)

	filters := &audit.QueryFilters{
		UserID: "user123",
		Limit:  10,
	}

	events, err := logger.Query(ctx, filters)
	require.NoError(t, err)
	require.Len(t, events, 1)

	retrieved := events[0]
	assert.Equal(t, event.ID, retrieved.ID)
	assert.Equal(t, event.EventType, retrieved.EventType)
	assert.Equal(t, event.Severity, retrieved.Severity)
	assert.Equal(t, event.UserID, retrieved.UserID)
	assert.Equal(t, event.IPAddress, retrieved.IPAddress)
	assert.Equal(t, event.UserAgent, retrieved.UserAgent)
	assert.Equal(t, event.Resource, retrieved.Resource)
	assert.Equal(t, event.Action, retrieved.Action)
	assert.Equal(t, event.Success, retrieved.Success)
	assert.Equal(t, event.RequestID, retrieved.RequestID)
	assert.Equal(t, event.Duration, retrieved.Duration)

	assert.NotNil(t, retrieved.Metadata)
	assert.Equal(t, float64(42), retrieved.Metadata["run_id"])
}

func TestAuditLogger_PersistEventWithDefaults(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	event := &audit.Event{
		EventType: audit.EventTypeStrategyCreated,
		Severity:  audit.SeverityInfo,
		IPAddress: "192.168.1.2",
		Action:    "Strategy created",
		Success:   true,
	}

	assert.Equal(t, uuid.Nil, event.ID)
	assert.True(t, event.Timestamp.IsZero())

	err = logger.Log(ctx, event)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	events, err := logger.Query(ctx, &audit.QueryFilters{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
}

func TestAuditLogger_QueryByEventType(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	events := []*audit.Event{
		{EventType: audit.EventTypeStrategyCreated, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Created", Success: true},
		{EventType: audit.EventTypeStrategyDeleted, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Deleted", Success: true},
		{EventType: audit.EventTypePositionOpened, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Opened", Success: true},
		{EventType: audit.EventTypeStrategyCreated, Severity: audit.SeverityInfo, IPAddress: "192.168.1.2", Action: "Another create", Success: true},
	}

	for _, event := range events {
		require.NoError(t, logger.Log(ctx, event))
	}

	filters := &audit.QueryFilters{EventType: audit.EventTypeStrategyCreated}
	results, err := logger.Query(ctx, filters)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, audit.EventTypeStrategyCreated, result.EventType)
	}
}

func TestAuditLogger_QueryByUserID(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	users := []string{"alice", "bob", "alice", "charlie", "alice"}
	for _, userID := range users {
		require.NoError(t, logger.Log(ctx, &audit.Event{
			EventType: audit.EventTypeStrategyRun,
			Severity:  audit.SeverityInfo,
			UserID:    userID,
			IPAddress: "192.168.1.1",
			Action:    "Strategy run",
			Success:   true,
		}))
	}

	filters := &audit.QueryFilters{UserID: "alice"}
	results, err := logger.Query(ctx, filters)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, result := range results {
		assert.Equal(t, "alice", result.UserID)
	}
}

func TestAuditLogger_QueryByIPAddress(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	ips := []string{"192.168.1.1", "192.168.1.2", "192.168.1.1", "10.0.0.1"}
	for _, ip := range ips {
		require.NoError(t, logger.Log(ctx, &audit.Event{
			EventType: audit.EventTypeStrategyRun,
			Severity:  audit.SeverityInfo,
			IPAddress: ip,
			Action:    "Strategy run",
			Success:   true,
		}))
	}

	filters := &audit.QueryFilters{IPAddress: "192.168.1.1"}
	results, err := logger.Query(ctx, filters)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, "192.168.1.1", result.IPAddress)
	}
}

func TestAuditLogger_QueryByTimeRange(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)

	events := []*audit.Event{
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Old event", Success: true, Timestamp: twoDaysAgo},
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Yesterday event", Success: true, Timestamp: yesterday},
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Today event", Success: true, Timestamp: now},
	}

	for _, event := range events {
		require.NoError(t, logger.Log(ctx, event))
	}

	filters := &audit.QueryFilters{
		StartTime: now.Add(-36 * time.Hour),
		EndTime:   now.Add(1 * time.Hour),
	}

	results, err := logger.Query(ctx, filters)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAuditLogger_QueryBySuccess(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	successes := []bool{true, false, true, true, false}
	for _, success := range successes {
		errorMsg := ""
		if !success {
			errorMsg = "Operation failed"
		}
		require.NoError(t, logger.Log(ctx, &audit.Event{
			EventType: audit.EventTypePositionOpened,
			Severity:  audit.SeverityInfo,
			IPAddress: "192.168.1.1",
			Action:    "Position opened",
			Success:   success,
			ErrorMsg:  errorMsg,
		}))
	}

	successFilter := true
	results, err := logger.Query(ctx, &audit.QueryFilters{Success: &successFilter})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, result := range results {
		assert.True(t, result.Success)
		assert.Empty(t, result.ErrorMsg)
	}

	failureFilter := false
	results, err = logger.Query(ctx, &audit.QueryFilters{Success: &failureFilter})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, result := range results {
		assert.False(t, result.Success)
		assert.Equal(t, "Operation failed", result.ErrorMsg)
	}
}

func TestAuditLogger_QueryWithLimit(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.Log(ctx, &audit.Event{
			EventType: audit.EventTypeStrategyRun,
			Severity:  audit.SeverityInfo,
			IPAddress: "192.168.1.1",
			Action:    "Strategy run",
			Success:   true,
		}))
	}

	results, err := logger.Query(ctx, &audit.QueryFilters{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestAuditLogger_QueryMultipleFilters(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	now := time.Now()

	events := []*audit.Event{
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, UserID: "alice", IPAddress: "192.168.1.1", Action: "Run", Success: true, Timestamp: now},
		{EventType: audit.EventTypeStrategyDeleted, Severity: audit.SeverityInfo, UserID: "alice", IPAddress: "192.168.1.1", Action: "Deleted", Success: true, Timestamp: now},
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, UserID: "bob", IPAddress: "192.168.1.1", Action: "Run", Success: true, Timestamp: now},
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, UserID: "alice", IPAddress: "192.168.1.2", Action: "Run", Success: true, Timestamp: now},
	}

	for _, event := range events {
		require.NoError(t, logger.Log(ctx, event))
	}

	filters := &audit.QueryFilters{
		EventType: audit.EventTypeStrategyRun,
		UserID:    "alice",
		IPAddress: "192.168.1.1",
	}

	results, err := logger.Query(ctx, filters)
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, audit.EventTypeStrategyRun, result.EventType)
	assert.Equal(t, "alice", result.UserID)
	assert.Equal(t, "192.168.1.1", result.IPAddress)
}

func TestAuditLogger_LogPortfolioAction_Integration(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	metadata := map[string]interface{}{
		"quantity": 10.0,
		"side":     "long",
	}

	err = logger.LogPortfolioAction(
		ctx,
		audit.EventTypePositionOpened,
		"trader1",
		"10.0.0.1",
		"AAPL",
		metadata,
		true,
		"",
	)
	require.NoError(t, err)

	events, err := logger.Query(ctx, &audit.QueryFilters{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "AAPL", event.Resource)
	assert.NotNil(t, event.Metadata)
	assert.Equal(t, 10.0, event.Metadata["quantity"])
	assert.Equal(t, "long", event.Metadata["side"])
}

func TestAuditLogger_LogSecurityEvent_Integration(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	metadata := map[string]interface{}{
		"attempts": 5.0,
		"endpoint": "/strategies/run",
	}

	err = logger.LogSecurityEvent(
		ctx,
		audit.EventTypeRateLimitExceeded,
		"",
		"192.168.1.100",
		"/strategies/run",
		"Rate limit exceeded",
		metadata,
	)
	require.NoError(t, err)

	events, err := logger.Query(ctx, &audit.QueryFilters{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, audit.EventTypeRateLimitExceeded, event.EventType)
	assert.Equal(t, audit.SeverityWarning, event.Severity)
	assert.False(t, event.Success)
	assert.Equal(t, "192.168.1.100", event.IPAddress)
}

func TestAuditLogger_LogConfigChange_Integration(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	err = logger.LogConfigChange(
		ctx,
		"admin",
		"192.168.1.5",
		"slippage",
		0.001,
		0.002,
		true,
		"",
	)
	require.NoError(t, err)

	events, err := logger.Query(ctx, &audit.QueryFilters{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, audit.EventTypeConfigUpdated, event.EventType)
	assert.Equal(t, "slippage", event.Resource)
	assert.True(t, event.Success)
	assert.NotNil(t, event.Metadata)
	assert.Equal(t, "slippage", event.Metadata["config_key"])
	assert.Equal(t, 0.001, event.Metadata["old_value"])
	assert.Equal(t, 0.002, event.Metadata["new_value"])
}

func TestAuditLogger_QueryOrdering(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	err := tc.ApplyMigrations("../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	logger := audit.NewLogger(tc.DB.Pool(), true)

	now := time.Now()
	events := []*audit.Event{
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "First", Success: true, Timestamp: now.Add(-3 * time.Minute)},
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Second", Success: true, Timestamp: now.Add(-2 * time.Minute)},
		{EventType: audit.EventTypeStrategyRun, Severity: audit.SeverityInfo, IPAddress: "192.168.1.1", Action: "Third", Success: true, Timestamp: now.Add(-1 * time.Minute)},
	}

	for _, event := range events {
		require.NoError(t, logger.Log(ctx, event))
	}

	results, err := logger.Query(ctx, &audit.QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Third", results[0].Action)
	assert.Equal(t, "Second", results[1].Action)
	assert.Equal(t, "First", results[2].Action)
}
