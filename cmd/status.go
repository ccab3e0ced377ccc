/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mintrelay/mintrelay/model"
	"github.com/mintrelay/mintrelay/storage"
	"github.com/mintrelay/mintrelay/storage/schema"
)

var (
	statusDbPath string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Display system status",
		Long:  `Display status information about recorded operations in the database`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("System Status Report\n")
			fmt.Printf("====================\n\n")
			fmt.Printf("Using database path: %s\n\n", statusDbPath)

			db, err := storage.NewWithPath(statusDbPath)
			if err != nil {
				fmt.Printf("Failed to initialize database: %v\n", err)
				fmt.Printf("Make sure the relayer has been started at least once\n")
				os.Exit(1)
			}
			defer db.Close()

			total, err := db.GetCounter(schema.OperationCounterKey(), 0)
			if err != nil {
				fmt.Printf("Failed to read operation counter: %v\n", err)
				os.Exit(1)
			}

			stored, err := db.CountKeysByPrefix(schema.OperationStoragePrefix())
			if err != nil {
				fmt.Printf("Failed to count stored operations: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Database Status:\n")
			fmt.Printf("   Operations recorded (lifetime): %d\n", total)
			fmt.Printf("   Operations currently stored:    %d\n\n", stored)

			kvs, err := db.GetByPrefix(schema.OperationStoragePrefix())
			if err != nil {
				fmt.Printf("Failed to query operations: %v\n", err)
				os.Exit(1)
			}

			if len(kvs) > 0 {
				fmt.Printf("Recent Operations:\n")
				shown := 0
				for i := len(kvs) - 1; i >= 0 && shown < 10; i-- {
					rec := &model.OperationRecord{}
					if err := rec.FromStorageData(kvs[i].Value); err != nil {
						continue
					}
					fmt.Printf("   %d. [%s] %s user=%s sender=%s\n", shown+1, rec.SubmittedAt.Format("2006-01-02 15:04:05"), rec.Kind, rec.UserID, rec.Sender.Hex())
					shown++
				}
				fmt.Printf("\n")
			} else {
				fmt.Printf("No operations recorded yet\n")
				fmt.Printf("Submit a gasless mint through the HTTP API to see entries here\n")
			}
		},
	}
)

func init() {
	statusCmd.Flags().StringVar(&statusDbPath, "db-path", "/tmp/mintrelay", "path to the relayer database")
	rootCmd.AddCommand(statusCmd)
}
