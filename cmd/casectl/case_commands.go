package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/platform"
	"github.com/iago/recognition-orchestrator/internal/result"
	"github.com/iago/recognition-orchestrator/internal/service"
)

type caseFile struct {
	ID           string     `json:"id"`
	Integrations []string   `json:"integrations"`
	Items        []itemFile `json:"items"`
}

type itemFile struct {
	ID           string   `json:"id"`
	Category     string   `json:"category"`
	ContentRef   string   `json:"content_ref"`
	Ext          string   `json:"ext"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Integrations []string `json:"integrations"`
}

// parseCaseFile decodes and validates a case description.
func parseCaseFile(r io.Reader) (*domain.Case, error) {
	var parsed caseFile
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode case file: %w", err)
	}
	if strings.TrimSpace(parsed.ID) == "" {
		return nil, errors.New("case id is required")
	}

	integrations, err := parseIntegrations(parsed.Integrations)
	if err != nil {
		return nil, err
	}
	c := &domain.Case{ID: parsed.ID, Integrations: integrations}
	seen := make(map[string]struct{}, len(parsed.Items))
	for index, item := range parsed.Items {
		if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.ContentRef) == "" {
			return nil, fmt.Errorf("item %d: id and content_ref are required", index)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("item %d: duplicate id %s", index, item.ID)
		}
		seen[item.ID] = struct{}{}
		itemIntegrations, err := parseIntegrations(item.Integrations)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		category := domain.ItemCategory(strings.ToLower(strings.TrimSpace(item.Category)))
		if category == "" {
			category = domain.ItemCategoryPhoto
		}
		c.Items = append(c.Items, domain.Item{
			ID:           item.ID,
			CaseID:       parsed.ID,
			Category:     category,
			ContentRef:   item.ContentRef,
			Ext:          strings.TrimPrefix(strings.ToLower(item.Ext), "."),
			Width:        item.Width,
			Height:       item.Height,
			Integrations: itemIntegrations,
		})
	}
	return c, nil
}

func parseIntegrations(values []string) ([]domain.Integration, error) {
	integrations := make([]domain.Integration, 0, len(values))
	for _, value := range values {
		integration, ok := domain.ParseIntegration(value)
		if !ok {
			return nil, fmt.Errorf("unknown integration %q", value)
		}
		integrations = append(integrations, integration)
	}
	return integrations, nil
}

func parseIntegrationArg(value string) (domain.Integration, error) {
	integration, ok := domain.ParseIntegration(value)
	if !ok {
		return "", fmt.Errorf("unknown integration %q (want documents or damage)", value)
	}
	return integration, nil
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <case.json>",
		Short: "Create or update a case and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			c, err := parseCaseFile(file)
			if err != nil {
				return err
			}

			stores, err := platform.OpenStores(cmd.Context(), ctx.config(), true, ctx.logger())
			if err != nil {
				return err
			}
			defer stores.Close()
			if err := stores.Postgres.PutCase(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "case %s imported items=%d\n", c.ID, len(c.Items))
			return nil
		},
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <case-id> <integration>",
		Short: "Enqueue a recognition round for a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			integration, err := parseIntegrationArg(args[1])
			if err != nil {
				return err
			}
			cfg := ctx.config()
			cfg.QueueBatchingEnabled = false
			logger := ctx.logger()

			stores, err := platform.OpenStores(cmd.Context(), cfg, true, logger)
			if err != nil {
				return err
			}
			defer stores.Close()
			client, err := platform.OpenRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("REDIS_ADDR is required to reach the workers")
			}
			defer client.Close()
			jobQueue := platform.OpenQueue(cmd.Context(), cfg, client, logger)
			defer jobQueue.Close()

			if _, err := stores.Cases.LoadCase(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("load case %s: %w", args[0], err)
			}
			job, err := service.NewJobsService(stores.Jobs, jobQueue.Producer, logger).EnqueueRecognition(cmd.Context(), args[0], integration)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s enqueued kind=%s case=%s integration=%s\n", job.ID, job.Kind, job.CaseID, job.Integration)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <case-id> <integration>",
		Short: "Show the result document of a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			integration, err := parseIntegrationArg(args[1])
			if err != nil {
				return err
			}
			stores, err := platform.OpenStores(cmd.Context(), ctx.config(), true, ctx.logger())
			if err != nil {
				return err
			}
			defer stores.Close()

			if _, err := stores.Cases.LoadCase(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("load case %s: %w", args[0], err)
			}
			merger := result.NewMerger(stores.Cases, coord.NewMemoryLocker(), result.MergerConfig{}, ctx.logger())
			doc, err := merger.Load(cmd.Context(), args[0], integration)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderDocument(args[0], integration, doc, result.NewDetector().Complete(doc)))
			return nil
		},
	}
}

// renderDocument prints a summary line and one row per requested item, in
// submission order.
func renderDocument(caseID string, integration domain.Integration, doc *domain.ResultDocument, complete bool) string {
	var out strings.Builder
	fmt.Fprintf(&out, "case %s integration=%s api_version=%d complete=%v notified=%v\n",
		caseID, integration, doc.APIVersion, complete, doc.NotificationSent)
	if len(doc.Requests) == 0 {
		out.WriteString("no requests recorded\n")
		return out.String()
	}

	type entry struct {
		taskID      string
		externalID  string
		requestedAt time.Time
		answered    bool
		sections    int
	}
	entries := make([]entry, 0, len(doc.Requests))
	for taskID, response := range doc.Responses {
		if response == nil {
			continue
		}
		for externalID, payload := range response.Images {
			entries = append(entries, entry{
				taskID:      taskID,
				externalID:  externalID,
				requestedAt: doc.Requests[externalID],
				answered:    !domain.IsEmptyPayload(payload),
				sections:    len(response.Sections),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].requestedAt.Equal(entries[j].requestedAt) {
			return entries[i].requestedAt.Before(entries[j].requestedAt)
		}
		if entries[i].taskID != entries[j].taskID {
			return entries[i].taskID < entries[j].taskID
		}
		return entries[i].externalID < entries[j].externalID
	})

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		state := "pending"
		if e.answered {
			state = "answered"
		}
		rows = append(rows, []string{
			e.taskID,
			e.externalID,
			e.requestedAt.UTC().Format(time.RFC3339),
			state,
			strconv.Itoa(e.sections),
		})
	}
	out.WriteString(renderTable(
		[]string{"Task", "External ID", "Requested", "State", "Sections"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	out.WriteString("\n")
	return out.String()
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs <case-id>",
		Short: "List the job ledger of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := platform.OpenStores(cmd.Context(), ctx.config(), true, ctx.logger())
			if err != nil {
				return err
			}
			defer stores.Close()

			jobs, err := stores.Jobs.ListCaseJobs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJobs(jobs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to list")
	return cmd
}

func renderJobs(jobs []domain.Job) string {
	if len(jobs) == 0 {
		return "no jobs recorded\n"
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			string(job.Kind),
			string(job.Integration),
			string(job.Status),
			strconv.Itoa(job.Attempts),
			job.UpdatedAt.UTC().Format(time.RFC3339),
			truncate(job.ErrorMessage, 48),
		})
	}
	return renderTable(
		[]string{"Job", "Kind", "Integration", "Status", "Attempts", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	) + "\n"
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
