package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/testutil"
)

func populate(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	seedE1(t, s)
	mustAppend(t, s, candidate("E2", record.OpCreate, `{"mood":"ok","tags":["a","b"]}`), nil)
	_, err := s.AppendBranch(ctx, candidate("E1", record.OpUpdate, `{"severity":6}`), 1)
	require.NoError(t, err)

	c := candidate("E2", record.OpCorrection, `{"mood":"good"}`)
	c.ChangeReason = "response to query"
	c.ClientTimestamp = testutil.DefaultEpoch.Add(-30 * time.Second)
	mustAppend(t, s, c, record.Seq(3))

	require.NoError(t, s.InsertAnnotation(ctx, testAnnotation("a-1", testutil.DefaultEpoch)))
	_, err = s.ResolveAnnotation(ctx, "a-1", Resolution{ResolvedBy: "inv-1", ResolvedAt: testutil.DefaultEpoch.Add(time.Second), SequenceID: 5})
	require.NoError(t, err)
}

// TestExportImportReplay restores a backup into empty storage and checks
// every projection row is reproduced exactly.
func TestExportImportReplay(t *testing.T) {
	src, _ := createTestStore(t)
	ctx := context.Background()
	populate(t, src)

	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf))
	assert.Contains(t, buf.String(), "previous_hash: genesis")

	dst, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "restore.db"))
	require.NoError(t, err)
	defer dst.Close()

	res, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Events: 5, Entities: 2, Annotations: 1}, res)

	assert.Equal(t, takeSnapshot(t, src), takeSnapshot(t, dst))

	srcAnn, err := src.ListAllAnnotations(ctx)
	require.NoError(t, err)
	dstAnn, err := dst.ListAllAnnotations(ctx)
	require.NoError(t, err)
	assert.Equal(t, srcAnn, dstAnn)

	report, err := dst.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%v", report.Anomalies)

	// The restored store keeps appending on the same chain.
	e, err := dst.Append(ctx, candidate("E2", record.OpComplete, `{}`), record.Seq(5))
	require.NoError(t, err)
	assert.Equal(t, int64(6), e.SequenceID())
	head, err := src.ReadHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, head.LastHash, e.PreviousHash())
}

func TestImportRefusesNonEmptyStore(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	populate(t, s)

	var buf bytes.Buffer
	require.NoError(t, s.Export(ctx, &buf))

	_, err := s.Import(ctx, &buf)
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestImportRefusesTamperedBackup(t *testing.T) {
	src, _ := createTestStore(t)
	ctx := context.Background()
	populate(t, src)

	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf))
	tampered := strings.Replace(buf.String(), `{"severity":4}`, `{"severity":1}`, 1)
	require.NotEqual(t, buf.String(), tampered)

	dst, _ := createTestStore(t)
	_, err := dst.Import(ctx, strings.NewReader(tampered))
	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []AnomalyKind{AnomalyHashMismatch}, anomalyKinds(ie.Report))

	head, err := dst.ReadHead(ctx)
	require.NoError(t, err)
	assert.Zero(t, head.LastSequenceID, "nothing was written")
}

func TestImportRejectsUnknownFormat(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.Import(context.Background(), strings.NewReader("format_version: \"9\"\nevents: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format version")
}
