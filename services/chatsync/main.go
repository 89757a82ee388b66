// Клиент синхронизации чатов поддержки: держит состояние чатов, сообщений и
// уведомлений агента в согласии с сервером и отдаёт его консоли.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/supportchat/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "Live chat synchronization client for the support console",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	logger.SetPrefix("chatsync")
	rootCmd.AddCommand(newRunCmd(), newVAPIDCmd())
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
