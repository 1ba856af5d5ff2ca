package importer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/blobstore"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/ledger"
	"github.com/packforge/distro/pkg/modcatalog"
	"github.com/packforge/distro/pkg/observability"
	jobstore "github.com/packforge/distro/pkg/store/ledger"
)

const (
	defaultParallelDownloads = 5
	minParallelDownloads     = 1
	maxParallelDownloads     = 10
	defaultWallClockMax      = 30 * time.Minute
)

// modResolver is the slice of modcatalog.Client the orchestrator needs:
// batch-resolving project/file pairs and streaming the resulting
// downloads. Narrowed to an interface so Run can be exercised with a
// fake in tests without standing up a real upstream catalog.
type modResolver interface {
	ResolveBatch(ctx context.Context, pairs []modcatalog.Pair) ([]modcatalog.ResolveResult, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// modpackUpserter is the slice of catalog.Service the orchestrator needs
// to upsert a modpack and land a draft version.
type modpackUpserter interface {
	GetModpackBySlug(ctx context.Context, slug string) (catalog.Modpack, error)
	CreateModpack(ctx context.Context, userID string, superAdmin bool, publisherID, name, slug string) (catalog.Modpack, error)
	UpdateMetadata(ctx context.Context, userID string, superAdmin bool, modpackID string, patch catalog.MetadataPatch) (catalog.Modpack, error)
	CreateDraftVersion(ctx context.Context, userID string, superAdmin bool, modpackID, versionString, targetRuntimeVersion string, files []catalog.VersionFile) (catalog.ModpackVersion, error)
}

// Orchestrator runs the spec §4.5 import pipeline: resolve every
// referenced mod against the external catalog, download whatever isn't
// already content-addressed in blob storage, then commit an atomic
// draft version.
type Orchestrator struct {
	catalogSvc       modpackUpserter
	modClient        modResolver
	blobs            blobstore.Store
	log              *slog.Logger
	parallelDownload int
	wallClockMax     time.Duration
	jobs             jobstore.Ledger
}

func NewOrchestrator(catalogSvc *catalog.Service, modClient *modcatalog.Client, blobs blobstore.Store, parallelDownload int, wallClockMax time.Duration, log *slog.Logger) *Orchestrator {
	if parallelDownload < minParallelDownloads || parallelDownload > maxParallelDownloads {
		parallelDownload = defaultParallelDownloads
	}
	if wallClockMax <= 0 {
		wallClockMax = defaultWallClockMax
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		catalogSvc:       catalogSvc,
		modClient:        modClient,
		blobs:            blobs,
		log:              log,
		parallelDownload: parallelDownload,
		wallClockMax:     wallClockMax,
	}
}

// WithJobStore attaches a durable obligation store so Run survives a
// process restart mid-import: a worker that comes back up can see the
// obligation is still EXECUTING and decide whether to retry it. A nil
// jobs leaves the orchestrator exactly as it was, for callers and tests
// that don't need that durability.
func (o *Orchestrator) WithJobStore(jobs jobstore.Ledger) *Orchestrator {
	o.jobs = jobs
	return o
}

// downloadOutcome is the result of ingesting one work-queue item (spec
// §4.5 step 5): either a resolved mod download or an override file. ref
// is populated for mod entries only; override failures are identified
// by relativePath alone.
type downloadOutcome struct {
	ref          ModRef
	isOverride   bool
	relativePath string
	digest       string
	size         int64
	deduped      bool
	err          error
}

// Opts carries the per-request knobs spec §4.5/§6 name alongside the
// manifest: parallelDownloads overrides the orchestrator's configured
// worker count for this run only; slugOverride picks the modpack slug
// to upsert under publisherID instead of deriving one from the
// manifest's name; visibility, if non-empty, is applied to a freshly
// created modpack (ignored when upserting an existing one).
type Opts struct {
	ParallelDownloads int
	SlugOverride      string
	Visibility        catalog.Visibility
}

// Run executes one full import: upsert the target modpack under
// publisherID (by slug), resolve every referenced mod, ingest it plus
// every override file with bounded parallelism, then commit a draft
// version (spec §4.5 step 7 "upsert the Modpack (if new) under the
// caller's publisher"). It fails fast (without ingesting anything) if
// any mod reference resolves as transient-failure, per spec §4.5's "do
// not partially import on an upstream outage" policy. A `missing` mod or
// a per-file ingestion error does NOT abort the import: the offending
// entry is omitted and recorded in the report's FailedEntries, and the
// version is still committed from whatever succeeded (spec §4.5 step 4,
// boundary scenario: two VersionFiles committed, one FailedEntries).
// overrideData holds the raw bytes backing every manifest.Overrides
// entry, keyed by its normalized relative path, as extracted from the
// uploaded archive. A cancelled ctx or an elapsed wall-clock budget
// aborts in-flight work within 2s.
func (o *Orchestrator) Run(ctx context.Context, userID string, superAdmin bool, publisherID string, manifest Manifest, overrideData map[string][]byte, opts Opts) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, o.wallClockMax)
	defer cancel()

	parallel := o.parallelDownload
	if opts.ParallelDownloads >= minParallelDownloads && opts.ParallelDownloads <= maxParallelDownloads {
		parallel = opts.ParallelDownloads
	}

	obligationID := o.beginObligation(ctx, publisherID, manifest.Name)

	modpackID, err := o.upsertModpack(ctx, userID, superAdmin, publisherID, manifest, opts)
	if err != nil {
		o.failObligation(ctx, obligationID, err)
		return Report{}, err
	}

	overrides := make([]overrideEntry, 0, len(manifest.Overrides))
	for _, ov := range manifest.Overrides {
		relPath, err := NormalizeRelativePath(ov.RelativePath)
		if err != nil {
			o.failObligation(ctx, obligationID, err)
			return Report{}, err
		}
		data, ok := overrideData[relPath]
		if !ok {
			err := apperr.Field(apperr.KindValidation, "overrides", "declared override not present in archive: "+relPath)
			o.failObligation(ctx, obligationID, err)
			return Report{}, err
		}
		overrides = append(overrides, overrideEntry{relativePath: relPath, data: data})
	}

	pairs := make([]modcatalog.Pair, len(manifest.Mods))
	for i, m := range manifest.Mods {
		pairs[i] = modcatalog.Pair{ProjectID: m.ProjectID, FileID: m.FileID}
	}

	resolved, err := o.modClient.ResolveBatch(ctx, pairs)
	if err != nil {
		o.failObligation(ctx, obligationID, err)
		return Report{}, err
	}

	var transient []ModRef
	for _, r := range resolved {
		if r.Status == modcatalog.ResolveTransientFailure {
			transient = append(transient, ModRef{ProjectID: r.Pair.ProjectID, FileID: r.Pair.FileID})
		}
	}
	if len(transient) > 0 {
		o.log.Warn("import aborted: upstream catalog degraded", "modpack_id", modpackID, "transient_count", len(transient))
		err := apperr.New(apperr.KindUpstreamUnavailable, "mod catalog is temporarily unavailable for some referenced mods; import aborted")
		o.failObligation(ctx, obligationID, err)
		return Report{}, err
	}

	outcomes := o.ingestAll(ctx, resolved, overrides, parallel)

	report := Report{
		ModpackID:      modpackID,
		TotalRequested: len(manifest.Mods),
		OverrideFiles:  len(manifest.Overrides),
	}

	var files []catalog.VersionFile
	for _, outcome := range outcomes {
		if outcome.err != nil {
			entry := FailedEntry{Reason: outcome.err.Error()}
			if outcome.isOverride {
				entry.Pair = ModRef{FileID: outcome.relativePath}
			} else {
				entry.Pair = outcome.ref
			}
			report.FailedEntries = append(report.FailedEntries, entry)
			continue
		}
		if outcome.deduped {
			report.Deduped++
		} else {
			report.Downloaded++
		}
		files = append(files, catalog.VersionFile{Digest: outcome.digest, RelativePath: outcome.relativePath})
	}

	if len(report.FailedEntries) > 0 {
		o.log.Warn("import committing with partial failures", "modpack_id", modpackID, "failed_count", len(report.FailedEntries))
		observability.AddSpanEvent(ctx, "import.partial", observability.ImportOperation(modpackID, "partial", report.Downloaded, report.Deduped)...)
		ledger.Append(ctx, ledger.LedgerTypeImport, "partial", userID, map[string]interface{}{
			"modpack_id": modpackID, "failed_count": len(report.FailedEntries),
		})
	}

	version, err := o.catalogSvc.CreateDraftVersion(ctx, userID, superAdmin, modpackID, manifest.VersionString, manifest.TargetRuntimeVersion, files)
	if err != nil {
		o.failObligation(ctx, obligationID, err)
		return report, err
	}
	report.VersionID = version.ID
	observability.AddSpanEvent(ctx, "import.committed", observability.ImportOperation(modpackID, "committed", report.Downloaded, report.Deduped)...)
	o.completeObligation(ctx, obligationID)
	ledger.Append(ctx, ledger.LedgerTypeImport, "committed", userID, map[string]interface{}{
		"modpack_id": modpackID, "version_id": version.ID, "downloaded": report.Downloaded, "deduped": report.Deduped,
	})
	return report, nil
}

// upsertModpack resolves the import target: an existing modpack under
// publisherID matching the requested slug, or a newly created one if
// none exists yet (spec §4.5 step 7).
func (o *Orchestrator) upsertModpack(ctx context.Context, userID string, superAdmin bool, publisherID string, manifest Manifest, opts Opts) (string, error) {
	rawSlug := opts.SlugOverride
	if rawSlug == "" {
		rawSlug = manifest.Name
	}
	slug, ok := catalog.NormalizeSlug(rawSlug)
	if !ok {
		return "", apperr.Field(apperr.KindValidation, "slug", "must be lowercase alphanumeric segments separated by single hyphens")
	}

	existing, err := o.catalogSvc.GetModpackBySlug(ctx, slug)
	if err == nil {
		return existing.ID, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return "", err
	}

	created, err := o.catalogSvc.CreateModpack(ctx, userID, superAdmin, publisherID, manifest.Name, slug)
	if err != nil {
		return "", err
	}

	if opts.Visibility != "" && opts.Visibility != created.Visibility {
		vis := opts.Visibility
		if _, err := o.catalogSvc.UpdateMetadata(ctx, userID, superAdmin, created.ID, catalog.MetadataPatch{Visibility: &vis}); err != nil {
			return "", err
		}
	}
	return created.ID, nil
}

// overrideEntry is one file under the archive's overrides/ directory,
// classified (path recorded) but not yet ingested (spec §4.5 step 2).
type overrideEntry struct {
	relativePath string
	data         []byte
}

// ingestAll runs a single bounded worker pool over every resolved mod
// plus every override file (spec §4.5 step 5: "a work queue containing
// every resolved remote entry plus every override"). A channel-backed
// semaphore caps in-flight work at parallel rather than spawning one
// goroutine per item unconditionally, so a thousand-mod modpack can't
// open a thousand concurrent upstream connections.
func (o *Orchestrator) ingestAll(ctx context.Context, resolved []modcatalog.ResolveResult, overrides []overrideEntry, parallel int) []downloadOutcome {
	outcomes := make([]downloadOutcome, len(resolved)+len(overrides))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	acquire := func(idx int, onTimeout downloadOutcome) bool {
		select {
		case sem <- struct{}{}:
			return true
		case <-ctx.Done():
			outcomes[idx] = onTimeout
			return false
		}
	}

	for i, r := range resolved {
		wg.Add(1)
		go func(idx int, result modcatalog.ResolveResult) {
			defer wg.Done()
			ref := ModRef{ProjectID: result.Pair.ProjectID, FileID: result.Pair.FileID}
			if !acquire(idx, downloadOutcome{ref: ref, err: ctx.Err()}) {
				return
			}
			defer func() { <-sem }()
			outcomes[idx] = o.downloadOne(ctx, result)
		}(i, r)
	}

	base := len(resolved)
	for i, ov := range overrides {
		wg.Add(1)
		go func(idx int, entry overrideEntry) {
			defer wg.Done()
			if !acquire(idx, downloadOutcome{isOverride: true, relativePath: entry.relativePath, err: ctx.Err()}) {
				return
			}
			defer func() { <-sem }()
			outcomes[idx] = o.ingestOverride(ctx, entry)
		}(base+i, ov)
	}

	wg.Wait()
	return outcomes
}

func (o *Orchestrator) ingestOverride(ctx context.Context, entry overrideEntry) downloadOutcome {
	put, err := o.blobs.Put(ctx, bytes.NewReader(entry.data), "")
	if err != nil {
		return downloadOutcome{isOverride: true, relativePath: entry.relativePath, err: err}
	}
	return downloadOutcome{
		isOverride:   true,
		relativePath: entry.relativePath,
		digest:       put.Digest,
		size:         put.Size,
		deduped:      put.Deduped,
	}
}

func (o *Orchestrator) downloadOne(ctx context.Context, result modcatalog.ResolveResult) downloadOutcome {
	ref := ModRef{ProjectID: result.Pair.ProjectID, FileID: result.Pair.FileID}
	relativePath := "mods/" + result.FileInfo.Filename
	if normalized, err := NormalizeRelativePath(relativePath); err == nil {
		relativePath = normalized
	} else {
		return downloadOutcome{ref: ref, err: err}
	}

	if result.Status == modcatalog.ResolveMissing {
		return downloadOutcome{ref: ref, err: apperr.New(apperr.KindNotFound, "mod file not found upstream")}
	}

	body, err := o.modClient.Download(ctx, result.DownloadURL)
	if err != nil {
		return downloadOutcome{ref: ref, err: err}
	}
	defer body.Close()

	put, err := o.blobs.Put(ctx, io.LimitReader(body, maxModFileBytes), "")
	if err != nil {
		return downloadOutcome{ref: ref, err: err}
	}

	return downloadOutcome{
		ref:          ref,
		relativePath: relativePath,
		digest:       put.Digest,
		size:         put.Size,
		deduped:      put.Deduped,
	}
}

// maxModFileBytes bounds a single download so a misbehaving upstream
// can't exhaust disk by streaming an unbounded body into blob storage.
const maxModFileBytes = 2 << 30 // 2 GiB

// beginObligation records that an import is in flight, when a job
// store is configured. It returns "" (and logs, but doesn't fail the
// import) if the store rejects the write, since the obligation record
// is a durability aid, not a precondition for importing.
func (o *Orchestrator) beginObligation(ctx context.Context, publisherID, intent string) string {
	if o.jobs == nil {
		return ""
	}
	id := uuid.NewString()
	now := time.Now()
	obl := jobstore.Obligation{
		ID:          id,
		Intent:      intent,
		State:       jobstore.StateExecuting,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublisherID: publisherID,
	}
	if err := o.jobs.Create(ctx, obl); err != nil {
		o.log.Warn("import obligation not recorded", "error", err)
		return ""
	}
	return id
}

func (o *Orchestrator) failObligation(ctx context.Context, obligationID string, cause error) {
	if o.jobs == nil || obligationID == "" {
		return
	}
	if err := o.jobs.UpdateState(ctx, obligationID, jobstore.StateFailed, map[string]any{"error": cause.Error()}); err != nil {
		o.log.Warn("import obligation not updated", "error", err)
	}
}

func (o *Orchestrator) completeObligation(ctx context.Context, obligationID string) {
	if o.jobs == nil || obligationID == "" {
		return
	}
	if err := o.jobs.UpdateState(ctx, obligationID, jobstore.StateCompleted, nil); err != nil {
		o.log.Warn("import obligation not updated", "error", err)
	}
}
