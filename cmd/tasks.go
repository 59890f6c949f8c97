package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/printforge/printq-cli/internal/model"
)

var tasksOrderID string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List materialized print tasks for one order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var order *model.Order
		if id, convErr := strconv.ParseInt(tasksOrderID, 10, 64); convErr == nil {
			order, err = st.GetOrderByID(ctx, id)
		} else {
			order, err = st.GetOrderByNumber(ctx, tasksOrderID)
		}
		if err != nil {
			return err
		}
		if order == nil {
			return eris.Errorf("no order matched %q", tasksOrderID)
		}

		tasks, err := st.ListTasksForOrder(ctx, order.ID)
		if err != nil {
			return err
		}

		out := struct {
			OrderID     int64             `json:"order_id"`
			OrderNumber string            `json:"order_number"`
			Tasks       []model.PrintTask `json:"tasks"`
		}{order.ID, order.OrderNumber, tasks}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksOrderID, "order", "", "order: internal ID or order number (required)")
	_ = tasksCmd.MarkFlagRequired("order")
	rootCmd.AddCommand(tasksCmd)
}
