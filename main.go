package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "debias":
			if err := RunDebiasCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "label":
			if err := RunLabelCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "plot":
			if err := RunPlotCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  swag-debias <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  debias    Adversarially fine-tune the answer predictor against a")
	fmt.Println("            protected-attribute adversary, then evaluate")
	fmt.Println("  label     Append a heuristic gender column to a dataset CSV")
	fmt.Println("  plot      Render loss curves from a training run's history CSV")
	fmt.Println("  help      Show this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  swag-debias label -in val.csv -out val_gendered.csv")
	fmt.Println("  swag-debias debias -train -data train_gendered.csv -eval -eval-data val_gendered.csv -out run1")
	fmt.Println("  swag-debias plot -in run1/train_results.csv -out run1/losses.png")
}
