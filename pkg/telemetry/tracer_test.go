package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	tel, err := Init(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	ctx, span := StartSpan(context.Background(), "ledger.TryReserve")
	defer span.End()
	assert.NotNil(t, ctx)
	RecordError(span, errors.New("exhausted"))
	RecordError(span, nil)

	assert.NoError(t, Shutdown(context.Background()))
}

func TestHeaders_RoundTripWithoutSpan(t *testing.T) {
	headers := map[string]string{}
	InjectHeaders(context.Background(), headers)

	ctx := ExtractHeaders(context.Background(), headers)
	assert.Equal(t, "", GetTraceID(ctx))
}
