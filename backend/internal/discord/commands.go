package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ora-bot/backend/pkg/logger"
)

// Commands returns the application command set the bot registers at startup.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Botのレイテンシを確認します。",
		},
		{
			Name:        "say",
			Description: "指定したメッセージを送信します。",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "送信するメッセージ",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "ephemeral",
					Description: "エフェメラルで返信する場合は true",
				},
			},
		},
		{
			Name:        "health",
			Description: "Botの状態を表示します。",
		},
		{
			Name:        "link",
			Description: "ORAアカウントと連携します。",
		},
		{
			Name:        "login",
			Description: "Googleアカウント連携用のURLを発行します。",
		},
		{
			Name:        "whoami",
			Description: "連携済みアカウント情報を表示します。",
		},
		{
			Name:        "privacy",
			Description: "返信の既定公開範囲を設定します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "返信の既定公開範囲を変更します。",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "mode",
							Description: "private は自分のみ / public は全員に表示",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "private", Value: "private"},
								{Name: "public", Value: "public"},
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "progress",
					Description: "音声検索の進捗読み上げを切り替えます。",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "speak",
							Description: "検索前に進捗を読み上げる場合は true",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "chat",
			Description: "LM Studio 経由で応答を生成します。",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "送信する内容",
					Required:    true,
				},
			},
		},
		{
			Name:        "search",
			Description: "Webを検索して結果を表示します。",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "検索キーワード",
					Required:    true,
				},
			},
		},
		{
			Name:        "dataset",
			Description: "データセット管理コマンド",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "添付ファイルをデータセットとして登録します。",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionAttachment,
							Name:        "file",
							Description: "取り込む添付ファイル",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "表示名（省略時はファイル名）",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "登録済みデータセットを表示します。",
				},
			},
		},
		{
			Name:        "image",
			Description: "画像を解析します。",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "file",
					Description: "解析する画像",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "classify は分類 / ocr は文字起こし",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "classify", Value: "classify"},
						{Name: "ocr", Value: "ocr"},
					},
				},
			},
		},
		{
			Name:        "voice",
			Description: "ボイスチャンネル操作コマンド",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "join",
					Description: "あなたのいるボイスチャンネルに接続します。",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "leave",
					Description: "ボイスチャンネルから切断します。",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "say",
					Description: "テキストを読み上げます。",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "text",
							Description: "読み上げる内容",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

// RegisterCommands overwrites the bot's command set. A non-empty devGuildID
// scopes registration to that guild for instant propagation during
// development; otherwise commands register globally.
func RegisterCommands(s *discordgo.Session, appID, devGuildID string) error {
	registered, err := s.ApplicationCommandBulkOverwrite(appID, devGuildID, Commands())
	if err != nil {
		return fmt.Errorf("failed to register application commands: %w", err)
	}

	scope := "global"
	if devGuildID != "" {
		scope = devGuildID
	}
	logger.Get().Info("Application commands registered",
		zap.Int("count", len(registered)),
		zap.String("scope", scope),
	)
	return nil
}
