//go:build ignore
// +build ignore

// This script reads and displays the contents of an alert history report for verification.
// Run with: go run scripts/read_excel.go [path]
package main

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

func main() {
	path := "sample_alert_history.xlsx"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer f.Close()

	fmt.Println("📊 Sheets:", f.GetSheetList())
	fmt.Println()

	// Summary sheet
	printBanner("告警概览")
	for row := 1; row <= 14; row++ {
		a, _ := f.GetCellValue("告警概览", fmt.Sprintf("A%d", row))
		b, _ := f.GetCellValue("告警概览", fmt.Sprintf("B%d", row))
		if a != "" || b != "" {
			fmt.Printf("  %-12s %s\n", a, b)
		}
	}
	fmt.Println()

	// Alerts sheet
	printBanner("告警明细 (严重优先)")
	rows, _ := f.GetRows("告警明细")
	for i, cols := range rows {
		if i == 0 || len(cols) < 8 {
			continue
		}
		// ID, 级别, 指标, 触发值, 状态
		fmt.Printf("  %-16s %-6s %-22s %-8s %s\n", cols[0], cols[2], cols[3], cols[4], cols[7])
	}
	fmt.Println()

	// Records sheet
	printBanner("通知记录")
	rows, _ = f.GetRows("通知记录")
	for i, cols := range rows {
		if i == 0 || len(cols) < 9 {
			continue
		}
		// 告警ID, 渠道, 结果, 尝试次数
		fmt.Printf("  %-16s %-12s %-8s 尝试 %s 次\n", cols[1], cols[2], cols[5], cols[8])
	}
}

func printBanner(title string) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Println("  " + title)
	fmt.Println("═══════════════════════════════════════")
}
