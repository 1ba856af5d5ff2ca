package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/blobstore"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/modcatalog"
	jobstore "github.com/packforge/distro/pkg/store/ledger"
)

type fakeJobStore struct {
	created []jobstore.Obligation
	updated map[string]jobstore.State
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{updated: make(map[string]jobstore.State)}
}

func (f *fakeJobStore) Create(ctx context.Context, obl jobstore.Obligation) error {
	f.created = append(f.created, obl)
	return nil
}

func (f *fakeJobStore) Get(ctx context.Context, id string) (jobstore.Obligation, error) {
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return jobstore.Obligation{}, jobstore.ErrNotFound
}

func (f *fakeJobStore) AcquireLease(ctx context.Context, id, workerID string, duration time.Duration) (jobstore.Obligation, error) {
	return f.Get(ctx, id)
}

func (f *fakeJobStore) UpdateState(ctx context.Context, id string, newState jobstore.State, details map[string]any) error {
	f.updated[id] = newState
	return nil
}

func (f *fakeJobStore) ListPending(ctx context.Context) ([]jobstore.Obligation, error) {
	return nil, nil
}

func (f *fakeJobStore) ListAll(ctx context.Context) ([]jobstore.Obligation, error) {
	return f.created, nil
}

func newTestOrchestrator(jobs jobstore.Ledger) *Orchestrator {
	o := &Orchestrator{log: slog.Default(), parallelDownload: defaultParallelDownloads, wallClockMax: defaultWallClockMax}
	return o.WithJobStore(jobs)
}

func TestBeginObligation_NilStoreIsNoop(t *testing.T) {
	o := newTestOrchestrator(nil)
	if id := o.beginObligation(context.Background(), "pub1", "test-pack"); id != "" {
		t.Fatalf("expected empty id with no job store, got %q", id)
	}
}

func TestBeginObligation_RecordsExecuting(t *testing.T) {
	jobs := newFakeJobStore()
	o := newTestOrchestrator(jobs)

	id := o.beginObligation(context.Background(), "pub1", "test-pack")
	if id == "" {
		t.Fatal("expected a non-empty obligation id")
	}
	if len(jobs.created) != 1 {
		t.Fatalf("expected 1 obligation created, got %d", len(jobs.created))
	}
	if jobs.created[0].State != jobstore.StateExecuting {
		t.Fatalf("expected StateExecuting, got %s", jobs.created[0].State)
	}
	if jobs.created[0].PublisherID != "pub1" {
		t.Fatalf("expected publisher pub1, got %s", jobs.created[0].PublisherID)
	}
}

func TestCompleteObligation_TransitionsToCompleted(t *testing.T) {
	jobs := newFakeJobStore()
	o := newTestOrchestrator(jobs)

	id := o.beginObligation(context.Background(), "pub1", "test-pack")
	o.completeObligation(context.Background(), id)

	if jobs.updated[id] != jobstore.StateCompleted {
		t.Fatalf("expected StateCompleted, got %s", jobs.updated[id])
	}
}

func TestFailObligation_TransitionsToFailed(t *testing.T) {
	jobs := newFakeJobStore()
	o := newTestOrchestrator(jobs)

	id := o.beginObligation(context.Background(), "pub1", "test-pack")
	o.failObligation(context.Background(), id, errors.New("upstream exploded"))

	if jobs.updated[id] != jobstore.StateFailed {
		t.Fatalf("expected StateFailed, got %s", jobs.updated[id])
	}
}

func TestFailObligation_EmptyIDIsNoop(t *testing.T) {
	jobs := newFakeJobStore()
	o := newTestOrchestrator(jobs)

	o.failObligation(context.Background(), "", errors.New("should not be recorded"))
	if len(jobs.updated) != 0 {
		t.Fatalf("expected no updates for empty obligation id, got %d", len(jobs.updated))
	}
}

// --- fakes for Run()'s resolve -> ingest -> commit pipeline ---

type fakeModClient struct {
	resolve func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error)
	bodies  map[string][]byte // keyed by download URL
}

func (f *fakeModClient) ResolveBatch(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
	return f.resolve(ctx, pairs)
}

func (f *fakeModClient) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	body, ok := f.bodies[url]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no fake body registered for "+url)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

type fakeCatalogSvc struct {
	modpacks     map[string]catalog.Modpack // by slug
	nextID       int
	draftVersion func(files []catalog.VersionFile) (catalog.ModpackVersion, error)
	created      []catalog.VersionFile
}

func newFakeCatalogSvc() *fakeCatalogSvc {
	return &fakeCatalogSvc{modpacks: make(map[string]catalog.Modpack)}
}

func (f *fakeCatalogSvc) GetModpackBySlug(ctx context.Context, slug string) (catalog.Modpack, error) {
	if m, ok := f.modpacks[slug]; ok {
		return m, nil
	}
	return catalog.Modpack{}, apperr.New(apperr.KindNotFound, "no such modpack")
}

func (f *fakeCatalogSvc) CreateModpack(ctx context.Context, userID string, superAdmin bool, publisherID, name, slug string) (catalog.Modpack, error) {
	f.nextID++
	m := catalog.Modpack{ID: "modpack-" + hex.EncodeToString([]byte{byte(f.nextID)}), PublisherID: publisherID, Name: name, Slug: slug, Visibility: catalog.VisibilityPublic}
	f.modpacks[slug] = m
	return m, nil
}

func (f *fakeCatalogSvc) UpdateMetadata(ctx context.Context, userID string, superAdmin bool, modpackID string, patch catalog.MetadataPatch) (catalog.Modpack, error) {
	return catalog.Modpack{ID: modpackID}, nil
}

func (f *fakeCatalogSvc) CreateDraftVersion(ctx context.Context, userID string, superAdmin bool, modpackID, versionString, targetRuntimeVersion string, files []catalog.VersionFile) (catalog.ModpackVersion, error) {
	f.created = files
	if f.draftVersion != nil {
		return f.draftVersion(files)
	}
	return catalog.ModpackVersion{ID: "version-1", ModpackID: modpackID, VersionString: versionString}, nil
}

// fakeBlobStore dedupes in memory the same way the real content-addressed
// store does, so a test can assert on Deduped/Downloaded counts (law L1).
type fakeBlobStore struct {
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, r io.Reader, claimedDigest string) (blobstore.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return blobstore.PutResult{}, err
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	_, existed := f.blobs[digest]
	f.blobs[digest] = data
	return blobstore.PutResult{Digest: digest, Size: int64(len(data)), Deduped: existed}, nil
}

func (f *fakeBlobStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	data, ok := f.blobs[digest]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no such blob")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, digest string) (bool, error) {
	_, ok := f.blobs[digest]
	return ok, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, digest string) error {
	delete(f.blobs, digest)
	return nil
}

func newRunTestOrchestrator(modClient modResolver, catalogSvc modpackUpserter, blobs blobstore.Store) *Orchestrator {
	return &Orchestrator{
		catalogSvc:       catalogSvc,
		modClient:        modClient,
		blobs:            blobs,
		log:              slog.Default(),
		parallelDownload: defaultParallelDownloads,
		wallClockMax:     defaultWallClockMax,
	}
}

func TestRun_FullySuccessfulImport(t *testing.T) {
	modClient := &fakeModClient{
		bodies: map[string][]byte{
			"https://mods.example/a.jar": []byte("mod-a-bytes"),
			"https://mods.example/b.jar": []byte("mod-b-bytes"),
		},
		resolve: func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
			results := make([]modcatalog.ResolveResult, len(pairs))
			for i, p := range pairs {
				results[i] = modcatalog.ResolveResult{
					Pair:        p,
					Status:      modcatalog.ResolveOK,
					FileInfo:    modcatalog.FileInfo{Filename: p.FileID + ".jar"},
					DownloadURL: "https://mods.example/" + p.FileID[:1] + ".jar",
				}
			}
			return results, nil
		},
	}
	catalogSvc := newFakeCatalogSvc()
	blobs := newFakeBlobStore()
	o := newRunTestOrchestrator(modClient, catalogSvc, blobs)

	manifest := Manifest{
		Name:                 "test-pack",
		VersionString:        "1.0.0",
		TargetRuntimeVersion: "1.20.1",
		Mods: []ModRef{
			{ProjectID: "p1", FileID: "a"},
			{ProjectID: "p2", FileID: "b"},
		},
	}

	report, err := o.Run(context.Background(), "user1", false, "pub1", manifest, nil, Opts{})
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if len(report.FailedEntries) != 0 {
		t.Fatalf("expected no failed entries, got %v", report.FailedEntries)
	}
	if report.Downloaded != 2 {
		t.Fatalf("expected 2 downloaded, got %d", report.Downloaded)
	}
	if report.VersionID == "" {
		t.Fatal("expected a committed version id")
	}
	if len(catalogSvc.created) != 2 {
		t.Fatalf("expected 2 version files committed, got %d", len(catalogSvc.created))
	}
}

// TestRun_MissingModStillCommitsPartialVersion covers the boundary
// scenario: a modpack with two mods where one resolves missing still
// commits a version with the successful file, reports the failure, and
// returns no error.
func TestRun_MissingModStillCommitsPartialVersion(t *testing.T) {
	modClient := &fakeModClient{
		bodies: map[string][]byte{
			"https://mods.example/ok.jar": []byte("ok-bytes"),
		},
		resolve: func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
			results := make([]modcatalog.ResolveResult, len(pairs))
			for i, p := range pairs {
				if p.FileID == "missing" {
					results[i] = modcatalog.ResolveResult{Pair: p, Status: modcatalog.ResolveMissing}
					continue
				}
				results[i] = modcatalog.ResolveResult{
					Pair:        p,
					Status:      modcatalog.ResolveOK,
					FileInfo:    modcatalog.FileInfo{Filename: "ok.jar"},
					DownloadURL: "https://mods.example/ok.jar",
				}
			}
			return results, nil
		},
	}
	catalogSvc := newFakeCatalogSvc()
	blobs := newFakeBlobStore()
	o := newRunTestOrchestrator(modClient, catalogSvc, blobs)

	manifest := Manifest{
		Name:                 "test-pack",
		VersionString:        "1.0.0",
		TargetRuntimeVersion: "1.20.1",
		Mods: []ModRef{
			{ProjectID: "p1", FileID: "ok"},
			{ProjectID: "p2", FileID: "missing"},
		},
	}

	report, err := o.Run(context.Background(), "user1", false, "pub1", manifest, nil, Opts{})
	if err != nil {
		t.Fatalf("Run must not error on a partial failure, got: %v", err)
	}
	if report.VersionID == "" {
		t.Fatal("expected the version to still be committed from the successful file")
	}
	if report.Downloaded != 1 {
		t.Fatalf("expected 1 downloaded, got %d", report.Downloaded)
	}
	if len(report.FailedEntries) != 1 {
		t.Fatalf("expected 1 failed entry, got %d", len(report.FailedEntries))
	}
	if report.FailedEntries[0].Pair.FileID != "missing" {
		t.Fatalf("expected the missing pair to be reported, got %+v", report.FailedEntries[0])
	}
	if len(catalogSvc.created) != 1 {
		t.Fatalf("expected exactly 1 version file committed, got %d", len(catalogSvc.created))
	}
}

// TestRun_TransientFailureAbortsWithoutCommitting covers the opposite
// boundary: a transient upstream failure must abort before any ingestion
// happens, with no version committed.
func TestRun_TransientFailureAbortsWithoutCommitting(t *testing.T) {
	modClient := &fakeModClient{
		bodies: map[string][]byte{},
		resolve: func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
			results := make([]modcatalog.ResolveResult, len(pairs))
			for i, p := range pairs {
				results[i] = modcatalog.ResolveResult{Pair: p, Status: modcatalog.ResolveTransientFailure, Err: errors.New("upstream 503")}
			}
			return results, nil
		},
	}
	catalogSvc := newFakeCatalogSvc()
	blobs := newFakeBlobStore()
	o := newRunTestOrchestrator(modClient, catalogSvc, blobs)

	manifest := Manifest{
		Name:                 "test-pack",
		VersionString:        "1.0.0",
		TargetRuntimeVersion: "1.20.1",
		Mods:                 []ModRef{{ProjectID: "p1", FileID: "flaky"}},
	}

	report, err := o.Run(context.Background(), "user1", false, "pub1", manifest, nil, Opts{})
	if err == nil {
		t.Fatal("expected Run to abort on a transient upstream failure")
	}
	if report.VersionID != "" {
		t.Fatalf("expected no version committed, got %q", report.VersionID)
	}
	if len(catalogSvc.created) != 0 {
		t.Fatalf("expected CreateDraftVersion never called, got %d files", len(catalogSvc.created))
	}
}

// TestRun_DedupesRepeatedDigest covers law L1: two entries whose bytes
// hash to the same digest must both land in the version's files, but
// the second is reported as deduped rather than downloaded.
func TestRun_DedupesRepeatedDigest(t *testing.T) {
	sameBytes := []byte("identical-contents")
	modClient := &fakeModClient{
		bodies: map[string][]byte{
			"https://mods.example/1.jar": sameBytes,
			"https://mods.example/2.jar": sameBytes,
		},
		resolve: func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
			results := make([]modcatalog.ResolveResult, len(pairs))
			for i, p := range pairs {
				results[i] = modcatalog.ResolveResult{
					Pair:        p,
					Status:      modcatalog.ResolveOK,
					FileInfo:    modcatalog.FileInfo{Filename: p.FileID + ".jar"},
					DownloadURL: "https://mods.example/" + p.FileID + ".jar",
				}
			}
			return results, nil
		},
	}
	catalogSvc := newFakeCatalogSvc()
	blobs := newFakeBlobStore()
	o := newRunTestOrchestrator(modClient, catalogSvc, blobs)
	o.parallelDownload = 1 // serialize so dedup is deterministic to assert on

	manifest := Manifest{
		Name:                 "test-pack",
		VersionString:        "1.0.0",
		TargetRuntimeVersion: "1.20.1",
		Mods: []ModRef{
			{ProjectID: "p1", FileID: "1"},
			{ProjectID: "p2", FileID: "2"},
		},
	}

	report, err := o.Run(context.Background(), "user1", false, "pub1", manifest, nil, Opts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Downloaded != 1 || report.Deduped != 1 {
		t.Fatalf("expected 1 downloaded + 1 deduped, got downloaded=%d deduped=%d", report.Downloaded, report.Deduped)
	}
	if len(catalogSvc.created) != 2 {
		t.Fatalf("expected both entries to land as version files despite the shared digest, got %d", len(catalogSvc.created))
	}
	if catalogSvc.created[0].Digest != catalogSvc.created[1].Digest {
		t.Fatalf("expected both version files to share a digest, got %q and %q", catalogSvc.created[0].Digest, catalogSvc.created[1].Digest)
	}
}

// TestRun_OverridesIngestedThroughBlobStore covers spec §4.5 steps 2/5/6:
// an override file is streamed through the blob store (digest computed
// there, not supplied by the caller) and lands as a version file.
func TestRun_OverridesIngestedThroughBlobStore(t *testing.T) {
	modClient := &fakeModClient{
		resolve: func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
			return nil, nil
		},
	}
	catalogSvc := newFakeCatalogSvc()
	blobs := newFakeBlobStore()
	o := newRunTestOrchestrator(modClient, catalogSvc, blobs)

	overrideBytes := []byte("server.properties contents")
	manifest := Manifest{
		Name:                 "test-pack",
		VersionString:        "1.0.0",
		TargetRuntimeVersion: "1.20.1",
		Overrides:            []OverrideFile{{RelativePath: "config/server.properties"}},
	}
	overrideData := map[string][]byte{"config/server.properties": overrideBytes}

	report, err := o.Run(context.Background(), "user1", false, "pub1", manifest, overrideData, Opts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalogSvc.created) != 1 {
		t.Fatalf("expected 1 version file from the override, got %d", len(catalogSvc.created))
	}
	wantSum := sha256.Sum256(overrideBytes)
	wantDigest := hex.EncodeToString(wantSum[:])
	if catalogSvc.created[0].Digest != wantDigest {
		t.Fatalf("expected override digest computed from its bytes, got %q want %q", catalogSvc.created[0].Digest, wantDigest)
	}
	if catalogSvc.created[0].RelativePath != "config/server.properties" {
		t.Fatalf("unexpected relative path: %q", catalogSvc.created[0].RelativePath)
	}
	if report.OverrideFiles != 1 {
		t.Fatalf("expected OverrideFiles count of 1, got %d", report.OverrideFiles)
	}
}

// TestRun_DeclaredOverrideMissingFromArchiveFails covers the case where
// the manifest names an override that the uploaded archive never
// actually contained.
func TestRun_DeclaredOverrideMissingFromArchiveFails(t *testing.T) {
	modClient := &fakeModClient{
		resolve: func(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error) {
			return nil, nil
		},
	}
	catalogSvc := newFakeCatalogSvc()
	blobs := newFakeBlobStore()
	o := newRunTestOrchestrator(modClient, catalogSvc, blobs)

	manifest := Manifest{
		Name:                 "test-pack",
		VersionString:        "1.0.0",
		TargetRuntimeVersion: "1.20.1",
		Overrides:            []OverrideFile{{RelativePath: "config/missing.properties"}},
	}

	_, err := o.Run(context.Background(), "user1", false, "pub1", manifest, map[string][]byte{}, Opts{})
	if err == nil {
		t.Fatal("expected an error when a declared override is absent from the archive")
	}
	if len(catalogSvc.created) != 0 {
		t.Fatal("expected no version to be committed")
	}
}
