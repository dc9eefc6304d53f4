package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "generate shell completion scripts",
		Long: `To load completions:

Bash:

  $ source <(modeleval completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ modeleval completion bash > /etc/bash_completion.d/modeleval
  # macOS:
  $ modeleval completion bash > $(brew --prefix)/etc/bash_completion.d/modeleval

Zsh:

  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:

  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ modeleval completion zsh > "${fpath[1]}/_modeleval"

Fish:

  $ modeleval completion fish | source

  # To load completions for each session, execute once:
  $ modeleval completion fish > ~/.config/fish/completions/modeleval.fish

PowerShell:

  PS> modeleval completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell %q", args[0])
			}
		},
	}
}
