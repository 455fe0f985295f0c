package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/helpdesk/internal/knowledge"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

func kbCmd() *cobra.Command {
	kb := &cobra.Command{
		Use:   "kb",
		Short: "Inspect knowledge bases",
	}

	var tree bool
	validate := &cobra.Command{
		Use:   "validate <url-or-path>",
		Short: "Load a knowledge base and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			loaded, err := knowledge.New(args[0], &http.Client{Timeout: 30 * time.Second}).Load(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if tree {
				printTree(cmd, loaded)
			}
			fmt.Fprintf(out, "%d categories, %d subcategories, %d policies\n",
				loaded.Categories.Len(), countSubcategories(loaded), loaded.Policies.Len())
			if err := knowledge.Validate(loaded); err != nil {
				return err
			}
			fmt.Fprintln(out, "knowledge base is valid")
			return nil
		},
	}
	validate.Flags().BoolVar(&tree, "tree", false, "print the category tree")

	kb.AddCommand(validate)
	return kb
}

func countSubcategories(kb *protocol.KnowledgeBase) int {
	n := 0
	for _, c := range kb.Categories.All() {
		n += c.Value.Subcategories.Len()
	}
	return n
}

func printTree(cmd *cobra.Command, kb *protocol.KnowledgeBase) {
	out := cmd.OutOrStdout()
	for _, c := range kb.Categories.All() {
		fmt.Fprintf(out, "%s  %s\n", c.Key, c.Value.Title)
		for _, s := range c.Value.Subcategories.All() {
			fmt.Fprintf(out, "  %s  %s\n", s.Key, s.Value.Title)
		}
	}
	for _, p := range kb.Policies.All() {
		fmt.Fprintf(out, "policy %s  %s\n", p.Key, p.Value.Title)
	}
}
