package backlog

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/canlake/canlake/pkg/cloudstore"
)

// Batch is an ordered list of raw log file paths decoded together.
type Batch []string

// Device returns the device ID the batch belongs to, inferred from the
// first file path.
func (b Batch) Device() string {
	if len(b) == 0 {
		return ""
	}
	return deviceOf(b[0])
}

// PlanReport summarizes one planning pass.
type PlanReport struct {
	Refs       int
	Unknown    int
	Sessions   int
	TotalFiles int
	ListErrors int
	Optimized  bool
}

// Planner expands backlog references into disjoint batches. A planner
// is single-use: the processed-session set lives for one Plan call.
type Planner struct {
	lister   cloudstore.Lister
	logger   *log.Logger
	minBatch int
	maxBatch int
}

// NewPlanner creates a planner over the input bucket's listing
// capability, with the manifest's batch size bounds.
func NewPlanner(lister cloudstore.Lister, logger *log.Logger, minBatch, maxBatch int) *Planner {
	return &Planner{lister: lister, logger: logger, minBatch: minBatch, maxBatch: maxBatch}
}

// Plan expands each reference list independently and returns the final
// batch list. No file appears in more than one batch; within a batch,
// order reflects first-seen order. When the total item count is below
// the min batch size, per-device merging and max-size chunking are
// applied.
func (p *Planner) Plan(ctx context.Context, refLists [][]string) ([]Batch, PlanReport, error) {
	var (
		report    PlanReport
		result    []Batch
		processed = make(map[string]bool) // sessions handled this pass
	)

	for _, refs := range refLists {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		// Order-preserving session -> files map for this reference list.
		var sessionOrder []string
		sessionFiles := make(map[string][]string)

		addSession := func(session string) {
			if _, ok := sessionFiles[session]; !ok {
				sessionOrder = append(sessionOrder, session)
				sessionFiles[session] = nil
			}
		}

		for _, ref := range refs {
			report.Refs++
			kind, item := Classify(ref)
			if item != ref {
				p.logger.Printf("using normalized prefix: %s -> %s", ref, item)
			}

			switch kind {
			case RefDevice:
				sessions, bySession, err := p.listSessions(ctx, item)
				if err != nil {
					p.logger.Printf("storage error listing device %s, skipping: %v", item, err)
					report.ListErrors++
					continue
				}
				for _, session := range sessions {
					if processed[session] {
						p.logger.Printf("session already processed, skipping: %s", session)
						continue
					}
					processed[session] = true
					if files := bySession[session]; len(files) > 0 {
						addSession(session)
						sessionFiles[session] = files
					}
				}

			case RefSession:
				if processed[item] {
					p.logger.Printf("session already processed, skipping: %s", item)
					continue
				}
				processed[item] = true
				if len(sessionFiles[item]) > 0 {
					continue // already collected in this pass
				}
				files, err := p.listSessionFiles(ctx, item)
				if err != nil {
					p.logger.Printf("storage error listing session %s, skipping: %v", item, err)
					report.ListErrors++
					continue
				}
				if len(files) > 0 {
					addSession(item)
					sessionFiles[item] = files
				}

			case RefFile:
				session, ok := sessionOf(item)
				if !ok {
					p.logger.Printf("file ref without device/session prefix, skipping: %s", item)
					report.Unknown++
					continue
				}
				if _, collected := sessionFiles[session]; !collected && processed[session] {
					// The session was finalized in an earlier reference
					// list; pull its files back so the new file joins
					// them instead of forming a duplicate batch.
					for i, batch := range result {
						if len(batch) > 0 && strings.HasPrefix(batch[0], session) {
							addSession(session)
							sessionFiles[session] = append([]string(nil), batch...)
							result = append(result[:i], result[i+1:]...)
							break
						}
					}
				}
				addSession(session)
				if contains(sessionFiles[session], item) {
					p.logger.Printf("duplicate file skipped: %s", item)
					continue
				}
				sessionFiles[session] = append(sessionFiles[session], item)

			default:
				p.logger.Printf("unrecognized backlog reference, skipping: %s", ref)
				report.Unknown++
			}
		}

		for _, session := range sessionOrder {
			processed[session] = true
			if files := dedupe(sessionFiles[session]); len(files) > 0 {
				result = append(result, files)
			}
		}
	}

	report.Sessions = len(result)
	for _, batch := range result {
		report.TotalFiles += len(batch)
	}

	if len(result) > 1 && report.TotalFiles < p.minBatch {
		p.logger.Printf("optimizing %d small batches (total %d items < min %d)",
			len(result), report.TotalFiles, p.minBatch)
		result = p.optimize(result)
		report.Optimized = true
	}

	return result, report, nil
}

// optimize merges batches of the same device and splits any merged
// batch exceeding the max size into contiguous chunks. Batches are
// never merged across devices.
func (p *Planner) optimize(batches []Batch) []Batch {
	var deviceOrder []string
	byDevice := make(map[string][]string)

	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		device := batch.Device()
		if device == "" {
			device = fmt.Sprintf("unknown_%d", len(byDevice))
		}
		if _, ok := byDevice[device]; !ok {
			deviceOrder = append(deviceOrder, device)
		}
		byDevice[device] = append(byDevice[device], batch...)
	}

	var out []Batch
	for _, device := range deviceOrder {
		files := byDevice[device]
		for start := 0; start < len(files); start += p.maxBatch {
			end := start + p.maxBatch
			if end > len(files) {
				end = len(files)
			}
			out = append(out, Batch(files[start:end]))
		}
	}
	return out
}

// listSessions lists everything under a device prefix once and groups
// valid files by session.
func (p *Planner) listSessions(ctx context.Context, devicePrefix string) ([]string, map[string][]string, error) {
	objects, err := p.lister.ListAll(ctx, devicePrefix)
	if err != nil {
		return nil, nil, err
	}

	sessionPattern := regexp.MustCompile("^" + regexp.QuoteMeta(devicePrefix) + `([0-9]{8})/`)

	seen := make(map[string]bool)
	var sessions []string
	bySession := make(map[string][]string)
	validFiles := 0

	for _, obj := range objects {
		m := sessionPattern.FindStringSubmatch(obj.Name)
		if m == nil {
			continue
		}
		session := devicePrefix + m[1] + "/"
		if !seen[session] {
			seen[session] = true
			sessions = append(sessions, session)
		}
		if HasValidExtension(obj.Name) {
			bySession[session] = append(bySession[session], obj.Name)
			validFiles++
		}
	}

	p.logger.Printf("found %d log files in %s", validFiles, devicePrefix)
	sort.Strings(sessions)
	for session := range bySession {
		sort.Strings(bySession[session])
	}
	return sessions, bySession, nil
}

// listSessionFiles lists the valid files directly under a session.
func (p *Planner) listSessionFiles(ctx context.Context, sessionPrefix string) ([]string, error) {
	objects, err := p.lister.ListAll(ctx, sessionPrefix)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, obj := range objects {
		if HasValidExtension(obj.Name) {
			files = append(files, obj.Name)
		}
	}
	p.logger.Printf("found %d log files in %s", len(files), sessionPrefix)
	sort.Strings(files)
	return files, nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func dedupe(list []string) Batch {
	seen := make(map[string]bool, len(list))
	var out Batch
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
