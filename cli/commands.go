package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage threads",
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage runs",
}

func init() {
	var threadID, metadata string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := rawJSON(metadata)
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/v1/threads", domain.CreateThreadRequest{ThreadID: threadID, Metadata: md})
		},
	}
	create.Flags().StringVar(&threadID, "id", "", "thread id (generated when empty)")
	create.Flags().StringVar(&metadata, "metadata", "", "metadata JSON object")

	state := &cobra.Command{
		Use:   "state THREAD_ID",
		Short: "Show the thread's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/threads/"+url.PathEscape(args[0])+"/state", nil)
		},
	}
	history := &cobra.Command{
		Use:   "history THREAD_ID",
		Short: "List the thread's checkpoints, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/threads/"+url.PathEscape(args[0])+"/history", nil)
		},
	}
	del := &cobra.Command{
		Use:   "delete THREAD_ID",
		Short: "Delete an idle thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodDelete, "/v1/threads/"+url.PathEscape(args[0]), nil)
		},
	}
	threadsCmd.AddCommand(create, state, history, del)
}

func init() {
	var (
		assistantID, input, config, checkpointID string
		failFast                                 bool
		waitMs                                   int
	)
	create := &cobra.Command{
		Use:   "create THREAD_ID",
		Short: "Start a run on a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := rawJSON(input)
			if err != nil {
				return err
			}
			cfg, err := rawJSON(config)
			if err != nil {
				return err
			}
			req := domain.CreateRunRequest{
				AssistantID:  assistantID,
				Input:        in,
				Config:       cfg,
				CheckpointID: checkpointID,
				WaitMs:       waitMs,
				FailFast:     failFast,
			}
			return call(http.MethodPost, "/v1/threads/"+url.PathEscape(args[0])+"/runs", req)
		},
	}
	create.Flags().StringVar(&assistantID, "assistant", "", "assistant id")
	create.Flags().StringVar(&input, "input", "", "input JSON")
	create.Flags().StringVar(&config, "config", "", "config JSON object")
	create.Flags().StringVar(&checkpointID, "checkpoint", "", "start from this checkpoint")
	create.Flags().BoolVar(&failFast, "fail-fast", false, "reject instead of waiting when the server is full")
	create.Flags().IntVar(&waitMs, "wait-ms", 0, "admission wait bound in milliseconds")
	_ = create.MarkFlagRequired("assistant")

	var resumePayload string
	resume := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Resume an interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := rawJSON(resumePayload)
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/v1/runs/"+url.PathEscape(args[0])+"/resume",
				domain.ResumeRunRequest{Resume: payload})
		},
	}
	resume.Flags().StringVar(&resumePayload, "resume", "null", "resume payload JSON")

	cancel := &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/runs/"+url.PathEscape(args[0])+"/cancel", nil)
		},
	}
	get := &cobra.Command{
		Use:   "get RUN_ID",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/runs/"+url.PathEscape(args[0]), nil)
		},
	}
	var timeoutMs int
	join := &cobra.Command{
		Use:   "join RUN_ID",
		Short: "Wait for a run to settle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, fmt.Sprintf("/v1/runs/%s/join?timeout_ms=%d", url.PathEscape(args[0]), timeoutMs), nil)
		},
	}
	join.Flags().IntVar(&timeoutMs, "timeout-ms", 30000, "how long to wait")

	runsCmd.AddCommand(create, resume, cancel, get, join)
}
