package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"alert-engine/internal/config"
)

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "验证配置文件和规则文件",
	Long: `验证配置文件格式与取值，并检查规则文件中的阈值、渠道、模板和升级规则。

规则文件中不合法的条目在运行时会被跳过，此命令会逐条列出。

示例:
  alertd validate -c config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath := GetConfigFile()
		fmt.Printf("🔍 验证配置文件: %s\n", configPath)

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ 配置验证失败:\n%v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ 配置文件验证通过")

		fmt.Printf("🔍 验证规则文件: %s\n", cfg.Rules.Path)
		rules, problems, err := config.LoadRules(cfg.Rules.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ 规则文件加载失败: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("   阈值 %d 条，渠道 %d 个，模板 %d 个，升级规则 %d 条\n",
			len(rules.Thresholds), len(rules.Channels), len(rules.Templates), len(rules.EscalationRules))
		if len(problems) > 0 {
			fmt.Fprintf(os.Stderr, "⚠️  以下 %d 个条目已被忽略:\n", len(problems))
			for _, p := range problems {
				fmt.Fprintf(os.Stderr, "   - %v\n", p)
			}
			os.Exit(1)
		}
		fmt.Println("✅ 规则文件验证通过")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
