package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ora-bot/backend/internal/adapter"
	"ora-bot/backend/internal/store"
	"ora-bot/backend/internal/tools"
	"ora-bot/backend/internal/voice"
	"ora-bot/backend/pkg/logger"
)

// Store is the persistence surface the command layer needs.
type Store interface {
	EnsureUser(ctx context.Context, userID string, privacyDefault bool) error
	GetPrivacy(ctx context.Context, userID string) (bool, error)
	SetPrivacy(ctx context.Context, userID string, private bool) error
	GetGoogleSub(ctx context.Context, userID string) (string, error)
	StartLoginState(ctx context.Context, userID string) (string, error)
	SetSearchProgress(ctx context.Context, userID string, speak bool) error
	AddDataset(ctx context.Context, userID, name, sourceURL string) (*store.Dataset, error)
	ListDatasets(ctx context.Context, userID string) ([]store.Dataset, error)
}

// Chatter generates a single-turn LLM reply.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// Searcher performs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]adapter.SearchResult, error)
}

// Linker issues account-link codes.
type Linker interface {
	RequestLinkCode(ctx context.Context, userID string) (string, error)
}

// VoiceController is the slice of the voice manager the commands use.
type VoiceController interface {
	EnsureConnection(guildID, userID string) (voice.Conn, bool)
	Speak(ctx context.Context, guildID, userID, text string) bool
	Disconnect(guildID string)
}

// responder is the interaction reply surface; *discordgo.Session satisfies it.
type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Handler dispatches slash command interactions.
type Handler struct {
	store    Store
	llm      Chatter
	search   Searcher
	link     Linker
	voiceCtl VoiceController

	publicBaseURL  string
	oraAPIBaseURL  string
	privacyDefault bool
	tesseractPath  string
	startedAt      time.Time

	// Latency and GuildCount report gateway state for /health; main wires
	// them to the live session.
	Latency    func() time.Duration
	GuildCount func() int

	httpClient *http.Client
	logger     *zap.Logger
}

// NewHandler creates the slash command handler.
func NewHandler(st Store, llm Chatter, search Searcher, link Linker, voiceCtl VoiceController, publicBaseURL, oraAPIBaseURL string, privacyDefault bool) *Handler {
	tesseractPath, err := tools.FindTesseract()
	if err != nil {
		logger.Get().Warn("Tesseract unavailable, OCR disabled", zap.Error(err))
	}

	return &Handler{
		store:          st,
		llm:            llm,
		search:         search,
		link:           link,
		voiceCtl:       voiceCtl,
		publicBaseURL:  strings.TrimRight(publicBaseURL, "/"),
		oraAPIBaseURL:  strings.TrimRight(oraAPIBaseURL, "/"),
		privacyDefault: privacyDefault,
		tesseractPath:  tesseractPath,
		startedAt:      time.Now(),
		Latency:        func() time.Duration { return 0 },
		GuildCount:     func() int { return 0 },
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.Get(),
	}
}

// HandleInteraction is the session handler for InteractionCreate events.
func (h *Handler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	h.dispatch(s, i)
}

func (h *Handler) dispatch(r responder, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	data := i.ApplicationCommandData()
	user := interactionUser(i)
	if user == nil {
		return
	}

	h.logger.Info("Command received",
		zap.String("command", data.Name),
		zap.String("user_id", user.ID),
		zap.String("guild_id", i.GuildID),
	)

	switch data.Name {
	case "ping":
		h.handlePing(r, i)
	case "say":
		h.handleSay(r, i, data)
	case "health":
		h.handleHealth(r, i)
	case "link":
		h.handleLink(ctx, r, i, user)
	case "login":
		h.handleLogin(ctx, r, i, user)
	case "whoami":
		h.handleWhoami(ctx, r, i, user)
	case "privacy":
		h.handlePrivacy(ctx, r, i, user, data)
	case "chat":
		h.handleChat(ctx, r, i, user, data)
	case "search":
		h.handleSearch(ctx, r, i, user, data)
	case "dataset":
		h.handleDataset(ctx, r, i, user, data)
	case "image":
		h.handleImage(ctx, r, i, data)
	case "voice":
		h.handleVoice(ctx, r, i, user, data)
	default:
		h.logger.Warn("Unknown command", zap.String("command", data.Name))
	}
}

func (h *Handler) handlePing(r responder, i *discordgo.InteractionCreate) {
	latencyMS := h.Latency().Milliseconds()
	h.respond(r, i, fmt.Sprintf("Pong! %dms", latencyMS), true)
}

func (h *Handler) handleSay(r responder, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if i.GuildID == "" || i.Member == nil {
		h.respond(r, i, "このコマンドはサーバー内でのみ使用できます。", true)
		return
	}
	if i.Member.Permissions&discordgo.PermissionAdministrator == 0 {
		h.respond(r, i, "管理者権限が必要です。", true)
		return
	}

	opts := optionMap(data.Options)
	text := stringOption(opts, "text")
	ephemeral := boolOption(opts, "ephemeral")
	h.respond(r, i, text, ephemeral)
}

func (h *Handler) handleHealth(r responder, i *discordgo.InteractionCreate) {
	uptime := time.Since(h.startedAt)
	lines := []string{
		fmt.Sprintf("PID: %d", os.Getpid()),
		fmt.Sprintf("Uptime: %.0f 秒", uptime.Seconds()),
		fmt.Sprintf("Latency: %d ms", h.Latency().Milliseconds()),
		fmt.Sprintf("Guilds: %d", h.GuildCount()),
		fmt.Sprintf("Go: %s", runtime.Version()),
		fmt.Sprintf("discordgo: %s", discordgo.VERSION),
	}
	h.respond(r, i, strings.Join(lines, "\n"), true)
}

func (h *Handler) handleLink(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User) {
	h.deferReply(r, i, true)

	code, err := h.link.RequestLinkCode(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to generate link code",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		h.followup(r, i, "リンクコードの生成に失敗しました。時間を置いて再度お試しください。", true)
		return
	}
	h.followup(r, i, fmt.Sprintf("リンクコード: `%s`", code), true)
}

func (h *Handler) handleLogin(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User) {
	h.ensureUser(ctx, user.ID)
	if h.publicBaseURL == "" {
		h.respond(r, i, "PUBLIC_BASE_URL が未設定のためログインURLを発行できません。", true)
		return
	}

	h.deferReply(r, i, true)
	state, err := h.store.StartLoginState(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to start login state",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		h.followup(r, i, "ログインURLの発行に失敗しました。時間を置いて再度お試しください。", true)
		return
	}

	url := fmt.Sprintf("%s/auth/discord?state=%s", h.publicBaseURL, state)
	h.followup(r, i, "Google ログインの準備ができました。以下のURLから認証を完了してください。\n"+url, true)
}

func (h *Handler) handleWhoami(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User) {
	h.ensureUser(ctx, user.ID)

	googleSub, err := h.store.GetGoogleSub(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to look up google sub", zap.Error(err))
	}
	linked := "未連携"
	if googleSub != "" {
		linked = "連携済み"
	}

	private, err := h.store.GetPrivacy(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to look up privacy", zap.Error(err))
		private = true
	}

	lines := []string{
		fmt.Sprintf("Discord: %s (ID: %s)", user.Username, user.ID),
		fmt.Sprintf("Google: %s", linked),
		fmt.Sprintf("既定の公開範囲: %s", privacyMode(private)),
	}
	h.respond(r, i, strings.Join(lines, "\n"), true)
}

func (h *Handler) handlePrivacy(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User, data discordgo.ApplicationCommandInteractionData) {
	sub := subCommand(data.Options)
	if sub == nil {
		return
	}

	h.ensureUser(ctx, user.ID)

	switch sub.Name {
	case "set":
		mode := stringOption(optionMap(sub.Options), "mode")
		if err := h.store.SetPrivacy(ctx, user.ID, mode == "private"); err != nil {
			h.logger.Error("Failed to set privacy", zap.Error(err))
			h.respond(r, i, "設定の更新に失敗しました。時間を置いて再度お試しください。", true)
			return
		}
		h.respond(r, i, fmt.Sprintf("既定公開範囲を %s に更新しました。", mode), true)

	case "progress":
		speak := boolOption(optionMap(sub.Options), "speak")
		if err := h.store.SetSearchProgress(ctx, user.ID, speak); err != nil {
			h.logger.Error("Failed to set search progress flag", zap.Error(err))
			h.respond(r, i, "設定の更新に失敗しました。時間を置いて再度お試しください。", true)
			return
		}
		state := "オフ"
		if speak {
			state = "オン"
		}
		h.respond(r, i, fmt.Sprintf("検索進捗の読み上げを%sにしました。", state), true)
	}
}

func (h *Handler) handleChat(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User, data discordgo.ApplicationCommandInteractionData) {
	h.ensureUser(ctx, user.ID)
	ephemeral := h.ephemeralFor(ctx, user.ID)
	h.deferReply(r, i, ephemeral)

	prompt := stringOption(optionMap(data.Options), "prompt")
	content, err := h.llm.Chat(ctx, "", prompt)
	if err != nil {
		h.logger.Error("LLM call failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		h.followup(r, i, "LLM 呼び出しに失敗しました。", true)
		return
	}
	h.followup(r, i, content, ephemeral)
}

func (h *Handler) handleSearch(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User, data discordgo.ApplicationCommandInteractionData) {
	h.ensureUser(ctx, user.ID)
	ephemeral := h.ephemeralFor(ctx, user.ID)
	h.deferReply(r, i, ephemeral)

	query := stringOption(optionMap(data.Options), "query")
	results, err := h.search.Search(ctx, query, 5)
	if err != nil {
		h.logger.Error("Search failed",
			zap.String("query", query),
			zap.Error(err),
		)
		h.followup(r, i, "検索に失敗しました。時間を置いて再度お試しください。", true)
		return
	}
	if len(results) == 0 {
		h.followup(r, i, "検索結果が見つかりませんでした。", ephemeral)
		return
	}

	lines := make([]string, 0, len(results))
	for idx, res := range results {
		lines = append(lines, fmt.Sprintf("%d. %s\n%s", idx+1, res.Title, res.URL))
	}
	h.followup(r, i, strings.Join(lines, "\n"), ephemeral)
}

func (h *Handler) handleDataset(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User, data discordgo.ApplicationCommandInteractionData) {
	sub := subCommand(data.Options)
	if sub == nil {
		return
	}

	h.ensureUser(ctx, user.ID)
	ephemeral := h.ephemeralFor(ctx, user.ID)

	switch sub.Name {
	case "add":
		h.deferReply(r, i, ephemeral)

		opts := optionMap(sub.Options)
		attachment := attachmentOption(data, opts, "file")
		if attachment == nil {
			h.followup(r, i, "添付ファイルが見つかりませんでした。", true)
			return
		}
		title := stringOption(opts, "name")
		if title == "" {
			title = attachment.Filename
		}

		ds, err := h.store.AddDataset(ctx, user.ID, title, attachment.URL)
		if err != nil {
			h.logger.Error("Failed to register dataset", zap.Error(err))
			h.followup(r, i, "データセットの登録に失敗しました。", true)
			return
		}

		uploaded := false
		if h.oraAPIBaseURL != "" {
			if err := h.uploadDataset(ctx, user.ID, title, attachment); err != nil {
				h.logger.Error("Dataset upload failed",
					zap.String("user_id", user.ID),
					zap.Error(err),
				)
			} else {
				uploaded = true
			}
		}

		destination := "ローカルメタデータのみ"
		if uploaded {
			destination = "ORA API"
		}
		h.followup(r, i, fmt.Sprintf("データセット『%s』を登録しました (ID: %s) 送信先: %s", title, ds.ID, destination), ephemeral)

	case "list":
		datasets, err := h.store.ListDatasets(ctx, user.ID)
		if err != nil {
			h.logger.Error("Failed to list datasets", zap.Error(err))
			h.respond(r, i, "データセットの取得に失敗しました。", true)
			return
		}
		if len(datasets) == 0 {
			h.respond(r, i, "登録済みのデータセットはありません。", ephemeral)
			return
		}

		lines := make([]string, 0, len(datasets))
		for _, ds := range datasets {
			lines = append(lines, fmt.Sprintf("%s: %s %s", ds.ID, ds.Name, ds.SourceURL))
		}
		h.respond(r, i, strings.Join(lines, "\n"), ephemeral)
	}
}

func (h *Handler) handleImage(ctx context.Context, r responder, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	h.deferReply(r, i, true)

	opts := optionMap(data.Options)
	attachment := attachmentOption(data, opts, "file")
	if attachment == nil {
		h.followup(r, i, "添付ファイルが見つかりませんでした。", true)
		return
	}

	payload, err := h.download(ctx, attachment.URL)
	if err != nil {
		h.logger.Error("Failed to download attachment", zap.Error(err))
		h.followup(r, i, "画像の取得に失敗しました。", true)
		return
	}

	mode := stringOption(opts, "mode")
	if mode == "" {
		mode = "classify"
	}

	switch mode {
	case "ocr":
		if h.tesseractPath == "" {
			h.followup(r, i, "OCR は現在利用できません。", true)
			return
		}
		text, err := tools.OCRImage(ctx, h.tesseractPath, payload)
		if err != nil {
			h.logger.Error("OCR failed", zap.Error(err))
			h.followup(r, i, "OCR に失敗しました。", true)
			return
		}
		h.followup(r, i, text, true)
	default:
		label, err := tools.ClassifyImage(payload)
		if err != nil {
			h.logger.Error("Image classification failed", zap.Error(err))
			h.followup(r, i, "画像の解析に失敗しました。", true)
			return
		}
		h.followup(r, i, label, true)
	}
}

func (h *Handler) handleVoice(ctx context.Context, r responder, i *discordgo.InteractionCreate, user *discordgo.User, data discordgo.ApplicationCommandInteractionData) {
	if i.GuildID == "" {
		h.respond(r, i, "このコマンドはサーバー内でのみ使用できます。", true)
		return
	}

	sub := subCommand(data.Options)
	if sub == nil {
		return
	}

	switch sub.Name {
	case "join":
		if _, ok := h.voiceCtl.EnsureConnection(i.GuildID, user.ID); !ok {
			h.respond(r, i, "ボイスチャンネルに接続できませんでした。先にボイスチャンネルへ参加してください。", true)
			return
		}
		h.respond(r, i, "ボイスチャンネルに接続しました。", true)

	case "leave":
		h.voiceCtl.Disconnect(i.GuildID)
		h.respond(r, i, "ボイスチャンネルから切断しました。", true)

	case "say":
		text := stringOption(optionMap(sub.Options), "text")
		h.deferReply(r, i, true)
		if !h.voiceCtl.Speak(ctx, i.GuildID, user.ID, text) {
			h.followup(r, i, "読み上げに失敗しました。", true)
			return
		}
		h.followup(r, i, "読み上げました。", true)
	}
}

// uploadDataset forwards the attachment to the ORA API ingest endpoint.
func (h *Handler) uploadDataset(ctx context.Context, userID, title string, attachment *discordgo.MessageAttachment) error {
	payload, err := h.download(ctx, attachment.URL)
	if err != nil {
		return fmt.Errorf("failed to download attachment: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("discord_user_id", userID); err != nil {
		return err
	}
	if err := writer.WriteField("dataset_name", title); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("file", attachment.Filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(payload); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.oraAPIBaseURL+"/api/datasets/ingest", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dataset upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (h *Handler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (h *Handler) ensureUser(ctx context.Context, userID string) {
	if err := h.store.EnsureUser(ctx, userID, h.privacyDefault); err != nil {
		h.logger.Error("Failed to ensure user",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// ephemeralFor resolves the user's reply visibility preference, private on
// lookup failure.
func (h *Handler) ephemeralFor(ctx context.Context, userID string) bool {
	private, err := h.store.GetPrivacy(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to resolve privacy preference", zap.Error(err))
		return true
	}
	return private
}

func (h *Handler) respond(r responder, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	}
	if ephemeral {
		resp.Data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := r.InteractionRespond(i.Interaction, resp); err != nil {
		h.logger.Error("Failed to respond to interaction", zap.Error(err))
	}
}

func (h *Handler) deferReply(r responder, i *discordgo.InteractionCreate, ephemeral bool) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{},
	}
	if ephemeral {
		resp.Data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := r.InteractionRespond(i.Interaction, resp); err != nil {
		h.logger.Error("Failed to defer interaction", zap.Error(err))
	}
}

func (h *Handler) followup(r responder, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	params := &discordgo.WebhookParams{
		Content: content,
	}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := r.FollowupMessageCreate(i.Interaction, true, params); err != nil {
		h.logger.Error("Failed to send followup", zap.Error(err))
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

func privacyMode(private bool) string {
	if private {
		return "private"
	}
	return "public"
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func subCommand(options []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionSubCommand {
			return opt
		}
	}
	return nil
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func boolOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	if opt, ok := opts[name]; ok {
		return opt.BoolValue()
	}
	return false
}

func attachmentOption(data discordgo.ApplicationCommandInteractionData, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.MessageAttachment {
	opt, ok := opts[name]
	if !ok || data.Resolved == nil {
		return nil
	}
	id, ok := opt.Value.(string)
	if !ok {
		return nil
	}
	return data.Resolved.Attachments[id]
}
