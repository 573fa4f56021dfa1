package importer_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/snackman/pizza-content-sub000/internal/domain"
	"github.com/snackman/pizza-content-sub000/internal/importer"
	"github.com/snackman/pizza-content-sub000/internal/importer/mocks"
	"github.com/snackman/pizza-content-sub000/internal/storage"
)

type testItem struct {
	id string
}

func (t testItem) ItemID() string { return t.id }

type ImporterTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source    *mocks.MockSource
	content   *mocks.MockContentStore
	sources   *mocks.MockSourceStore
	logs      *mocks.MockImportLogStore
	dedup     *mocks.MockDeduplicator
	tagger    *mocks.MockTagger
	limiter   *mocks.MockLimiter
	publisher *mocks.MockPublisher
	txManager *mocks.MockTransactionManager

	logger *slog.Logger
}

func (s *ImporterTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.content = mocks.NewMockContentStore(s.ctrl)
	s.sources = mocks.NewMockSourceStore(s.ctrl)
	s.logs = mocks.NewMockImportLogStore(s.ctrl)
	s.dedup = mocks.NewMockDeduplicator(s.ctrl)
	s.tagger = mocks.NewMockTagger(s.ctrl)
	s.limiter = mocks.NewMockLimiter(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.source.EXPECT().Platform().Return("reddit").AnyTimes()
	s.source.EXPECT().Identifier().Return("pizza").AnyTimes()
	s.source.EXPECT().DisplayName().Return("r/pizza").AnyTimes()
}

func (s *ImporterTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestImporterTestSuite(t *testing.T) {
	suite.Run(t, new(ImporterTestSuite))
}

func (s *ImporterTestSuite) newImporter(opts importer.Options) *importer.Importer {
	return importer.New(
		s.source,
		s.content,
		s.sources,
		s.logs,
		s.dedup,
		s.tagger,
		s.limiter,
		s.publisher,
		s.txManager,
		s.logger,
		opts,
	)
}

// expectInit wires the happy-path initialization: source row exists, log
// opens, dedup cache loads.
func (s *ImporterTestSuite) expectInit() {
	s.sources.EXPECT().
		GetOrCreate(gomock.Any(), "reddit", "pizza", "r/pizza").
		Return(&domain.ImportSource{ID: 7, Platform: "reddit", SourceIdentifier: "pizza"}, nil)
	s.logs.EXPECT().
		Open(gomock.Any(), int64(7), gomock.Any()).
		Return(int64(42), nil)
	s.dedup.EXPECT().LoadCache(gomock.Any()).Return(nil)
}

// expectFetch has the limiter invoke the wrapped fetch and the source
// return the given items.
func (s *ImporterTestSuite) expectFetch(items []importer.RawItem, err error) {
	s.limiter.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
	s.source.EXPECT().Fetch(gomock.Any()).Return(items, err)
}

// expectFinalize captures the finishing log write and runs the transaction
// body inline.
func (s *ImporterTestSuite) expectFinalize(captured **domain.ImportLog) {
	s.txManager.EXPECT().
		WithTransaction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
	s.logs.EXPECT().
		Finish(gomock.Any(), int64(42), gomock.Any()).
		DoAndReturn(func(ctx context.Context, logID int64, log *domain.ImportLog) error {
			*captured = log
			return nil
		})
	s.sources.EXPECT().TouchLastFetched(gomock.Any(), int64(7), gomock.Any()).Return(nil)
}

func (s *ImporterTestSuite) TestRun_EmptyFetchCompletes() {
	s.expectInit()
	s.expectFetch(nil, nil)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(0, stats.Found)
	s.Equal(0, stats.Imported)
	s.Equal(0, stats.Skipped)
	s.Empty(stats.Errors)

	s.Require().NotNil(finished)
	s.Equal(domain.ImportStatusCompleted, finished.Status)
	s.NotNil(finished.CompletedAt)
	s.Nil(finished.ErrorMessage)
}

func (s *ImporterTestSuite) TestRun_ImportsNewItem() {
	s.expectInit()

	item := testItem{id: "abc"}
	s.expectFetch([]importer.RawItem{item}, nil)

	draft := &domain.ContentDraft{
		Type:           "image",
		Title:          "Fresh out of the oven",
		URL:            "https://i.example.com/a.jpg",
		SourceURL:      "https://example.com/posts/abc",
		SourcePlatform: "reddit",
	}
	s.source.EXPECT().Transform(gomock.Any(), item).Return(draft, nil)

	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	s.tagger.EXPECT().ExtractFromContent(draft).Return([]string{"pizza", "reddit"})

	s.content.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec *domain.ContentRecord) (int64, error) {
			s.Equal(domain.ContentStatusApproved, rec.Status)
			s.Equal(rec.URL, rec.ThumbnailURL) // thumbnail falls back to url
			s.Equal([]string{"pizza", "reddit"}, rec.Tags)
			return 1, nil
		})
	s.dedup.EXPECT().AddToCache(draft.SourceURL)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(1, stats.Found)
	s.Equal(1, stats.Imported)
	s.Equal(0, stats.Skipped)
	s.Empty(stats.Errors)
	s.Equal(1, finished.ItemsImported)
}

func (s *ImporterTestSuite) TestRun_InRunDuplicateSkipped() {
	s.expectInit()

	first := testItem{id: "a"}
	second := testItem{id: "b"}
	s.expectFetch([]importer.RawItem{first, second}, nil)

	sourceURL := "https://example.com/posts/same"
	mkDraft := func() *domain.ContentDraft {
		return &domain.ContentDraft{
			Type:      "image",
			Title:     "same post",
			URL:       "https://i.example.com/same.jpg",
			SourceURL: sourceURL,
			Tags:      []string{"pizza"},
		}
	}
	s.source.EXPECT().Transform(gomock.Any(), first).Return(mkDraft(), nil)
	s.source.EXPECT().Transform(gomock.Any(), second).Return(mkDraft(), nil)

	gomock.InOrder(
		s.dedup.EXPECT().Exists(gomock.Any(), sourceURL).Return(false, nil),
		s.dedup.EXPECT().Exists(gomock.Any(), sourceURL).Return(true, nil),
	)

	s.content.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.dedup.EXPECT().AddToCache(sourceURL)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(2, stats.Found)
	s.Equal(1, stats.Imported)
	s.Equal(1, stats.Skipped)
	s.Empty(stats.Errors)
}

func (s *ImporterTestSuite) TestRun_NilDraftSkipped() {
	s.expectInit()

	item := testItem{id: "rejected"}
	s.expectFetch([]importer.RawItem{item}, nil)
	s.source.EXPECT().Transform(gomock.Any(), item).Return(nil, nil)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(1, stats.Found)
	s.Equal(0, stats.Imported)
	s.Equal(1, stats.Skipped)
}

func (s *ImporterTestSuite) TestRun_TransformErrorIsolatedPerItem() {
	s.expectInit()

	bad := testItem{id: "bad"}
	good := testItem{id: "good"}
	s.expectFetch([]importer.RawItem{bad, good}, nil)

	s.source.EXPECT().Transform(gomock.Any(), bad).Return(nil, errors.New("malformed payload"))

	draft := &domain.ContentDraft{
		Type:      "image",
		Title:     "still works",
		URL:       "https://i.example.com/ok.jpg",
		SourceURL: "https://example.com/posts/good",
		Tags:      []string{"pizza"},
	}
	s.source.EXPECT().Transform(gomock.Any(), good).Return(draft, nil)
	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	s.content.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.dedup.EXPECT().AddToCache(draft.SourceURL)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(2, stats.Found)
	s.Equal(1, stats.Imported)
	s.Require().Len(stats.Errors, 1)
	s.Equal("bad", stats.Errors[0].ItemID)
	s.Contains(stats.Errors[0].Message, "malformed payload")
	s.Equal(domain.ImportStatusCompleted, finished.Status)
}

func (s *ImporterTestSuite) TestRun_UniqueViolationReclassifiedAsSkip() {
	s.expectInit()

	item := testItem{id: "raced"}
	s.expectFetch([]importer.RawItem{item}, nil)

	draft := &domain.ContentDraft{
		Type:      "image",
		Title:     "raced",
		URL:       "https://i.example.com/r.jpg",
		SourceURL: "https://example.com/posts/raced",
		Tags:      []string{"pizza"},
	}
	s.source.EXPECT().Transform(gomock.Any(), item).Return(draft, nil)
	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	s.content.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		Return(int64(0), fmt.Errorf("insert content: %w", storage.ErrDuplicate))
	s.dedup.EXPECT().AddToCache(draft.SourceURL)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(0, stats.Imported)
	s.Equal(1, stats.Skipped)
	s.Empty(stats.Errors)
}

func (s *ImporterTestSuite) TestRun_DryRunDoesNotPersist() {
	s.expectInit()

	item := testItem{id: "dry"}
	s.expectFetch([]importer.RawItem{item}, nil)

	draft := &domain.ContentDraft{
		Type:      "image",
		Title:     "dry run post",
		URL:       "https://i.example.com/d.jpg",
		SourceURL: "https://example.com/posts/dry",
		Tags:      []string{"pizza"},
	}
	s.source.EXPECT().Transform(gomock.Any(), item).Return(draft, nil)
	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	// no Insert, no AddToCache, no Publish expectations: dry run must not
	// touch any of them

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{DryRun: true}).Run(context.Background())

	s.NoError(err)
	s.Equal(1, stats.Imported)
	s.Equal(0, stats.Skipped)
	s.Equal(1, finished.ItemsImported)
}

func (s *ImporterTestSuite) TestRun_FatalFetchFailureFinalizesAsFailed() {
	s.expectInit()

	s.limiter.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(errors.New("api unreachable"))

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.Error(err)
	s.Contains(err.Error(), "fetch items")
	s.Require().NotNil(stats)
	s.Equal(0, stats.Found)

	s.Require().NotNil(finished)
	s.Equal(domain.ImportStatusFailed, finished.Status)
	s.Require().NotNil(finished.ErrorMessage)
	s.Contains(*finished.ErrorMessage, "api unreachable")
}

func (s *ImporterTestSuite) TestRun_DegradedModeStillImports() {
	s.sources.EXPECT().
		GetOrCreate(gomock.Any(), "reddit", "pizza", "r/pizza").
		Return(nil, fmt.Errorf("select import_sources: %w", storage.ErrMissingTable))
	s.dedup.EXPECT().LoadCache(gomock.Any()).Return(nil)

	item := testItem{id: "deg"}
	s.expectFetch([]importer.RawItem{item}, nil)

	draft := &domain.ContentDraft{
		Type:      "image",
		Title:     "degraded import",
		URL:       "https://i.example.com/g.jpg",
		SourceURL: "https://example.com/posts/deg",
		Tags:      []string{"pizza"},
	}
	s.source.EXPECT().Transform(gomock.Any(), item).Return(draft, nil)
	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	s.content.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.dedup.EXPECT().AddToCache(draft.SourceURL)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	// no Open, no Finish, no TouchLastFetched: bookkeeping is skipped

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(1, stats.Imported)
}

func (s *ImporterTestSuite) TestRun_InitializationFailureIsFatal() {
	s.sources.EXPECT().
		GetOrCreate(gomock.Any(), "reddit", "pizza", "r/pizza").
		Return(nil, errors.New("connection refused"))

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.Error(err)
	s.Contains(err.Error(), "initialize import")
	s.NotNil(stats)
}

func (s *ImporterTestSuite) TestRun_PublishFailureDoesNotFailItem() {
	s.expectInit()

	item := testItem{id: "pub"}
	s.expectFetch([]importer.RawItem{item}, nil)

	draft := &domain.ContentDraft{
		Type:      "image",
		Title:     "publish fails",
		URL:       "https://i.example.com/p.jpg",
		SourceURL: "https://example.com/posts/pub",
		Tags:      []string{"pizza"},
	}
	s.source.EXPECT().Transform(gomock.Any(), item).Return(draft, nil)
	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	s.content.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.dedup.EXPECT().AddToCache(draft.SourceURL)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	stats, err := s.newImporter(importer.Options{}).Run(context.Background())

	s.NoError(err)
	s.Equal(1, stats.Imported)
	s.Empty(stats.Errors)
}

func (s *ImporterTestSuite) TestRun_NoPublisherConfigured() {
	s.expectInit()

	item := testItem{id: "nopub"}
	s.expectFetch([]importer.RawItem{item}, nil)

	draft := &domain.ContentDraft{
		Type:      "image",
		Title:     "no publisher",
		URL:       "https://i.example.com/n.jpg",
		SourceURL: "https://example.com/posts/nopub",
		Tags:      []string{"pizza"},
	}
	s.source.EXPECT().Transform(gomock.Any(), item).Return(draft, nil)
	s.dedup.EXPECT().Exists(gomock.Any(), draft.SourceURL).Return(false, nil)
	s.content.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.dedup.EXPECT().AddToCache(draft.SourceURL)

	var finished *domain.ImportLog
	s.expectFinalize(&finished)

	imp := importer.New(
		s.source, s.content, s.sources, s.logs, s.dedup, s.tagger,
		s.limiter, nil, s.txManager, s.logger, importer.Options{},
	)

	stats, err := imp.Run(context.Background())

	s.NoError(err)
	s.Equal(1, stats.Imported)
}

func (s *ImporterTestSuite) TestRun_FinalizedExactlyOnce() {
	s.expectInit()
	s.expectFetch(nil, nil)

	var finished *domain.ImportLog
	s.expectFinalize(&finished) // gomock enforces the single Finish call

	imp := s.newImporter(importer.Options{})
	stats, err := imp.Run(context.Background())
	s.NoError(err)
	s.NotNil(stats)

	// a second finalize on the same run must be a no-op
	imp.Finalize(context.Background(), domain.ImportStatusFailed, "should not land", stats)
	s.Equal(domain.ImportStatusCompleted, finished.Status)

	s.True(time.Since(imp.StartedAt()) < time.Minute)
}
