package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/kling"
	"github.com/Staritsin/photo-live/internal/models"
	"github.com/Staritsin/photo-live/internal/service"
)

var errNotImage = errors.New("not an image")

// PhotoStorage mirrors user photos into public object storage so the video
// generator can fetch them by URL.
type PhotoStorage interface {
	UploadPhoto(ctx context.Context, telegramID int64, data []byte, contentType string) (string, error)
}

// Animator turns a still photo into a short video clip.
type Animator interface {
	Animate(ctx context.Context, opts kling.AnimateOptions) (*kling.Video, error)
}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	ledger     *service.LedgerService
	payments   *service.PaymentService
	referrals  *service.ReferralService
	animator   Animator
	storage    PhotoStorage
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, ledger *service.LedgerService, payments *service.PaymentService, referrals *service.ReferralService, animator Animator, storage PhotoStorage) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		users:      users,
		ledger:     ledger,
		payments:   payments,
		referrals:  referrals,
		animator:   animator,
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handlePhoto(ctx, msg); err != nil {
			if errors.Is(err, errNotImage) {
				b.sendText(msg.Chat.ID, "Это не изображение. Пришлите фото, которое нужно оживить.")
			} else {
				b.log.Error("photo upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Не удалось сохранить фото, попробуйте снова.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	switch session.State {
	case StateAwaitingPrompt:
		b.startAnimation(ctx, msg.Chat.ID, msg.From, session.PhotoURL, strings.TrimSpace(msg.Text))
	case StateAwaitingPhoto:
		b.sendText(msg.Chat.ID, "Жду фото. Пришлите изображение, которое нужно оживить.")
	default:
		b.sendMainMenu(msg.Chat.ID, "Пришлите фото, которое нужно оживить, или выберите действие:")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "balance":
		b.handleProfile(ctx, msg)
	case "help":
		b.sendText(msg.Chat.ID, "Пришлите фото — я оживлю его и превращу в короткое видео.\n\nКоманды:\n/start — главное меню\n/balance — баланс и ссылка для друзей")
	case "compensate":
		b.handleAdminCompensate(ctx, msg)
	case "get_balance":
		b.handleAdminGetBalance(ctx, msg)
	case "reset_balance":
		b.handleAdminReset(ctx, msg, false)
	case "reset_all":
		b.handleAdminReset(ctx, msg, true)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Используйте /start.")
	}
}

// handleStart registers the account, attaches the referral edge from a
// "ref<telegram id>" deep-link payload (new accounts only) and grants the
// free trial when the account is new.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	user, created, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user", "err", err)
		return
	}

	if created {
		if payload := strings.TrimSpace(msg.CommandArguments()); strings.HasPrefix(payload, "ref") {
			b.attachReferral(ctx, user, strings.TrimPrefix(payload, "ref"))
		}
		if granted, err := b.ledger.GrantTrial(ctx, user.ID); err != nil {
			b.log.Error("grant trial", "user", user.ID, "err", err)
		} else if granted {
			b.sendText(msg.Chat.ID, fmt.Sprintf("Вам начислено %d бесплатных генераций — попробуйте прямо сейчас!", b.cfg.TrialCount))
		}
	}

	name := user.FullName
	if name == "" {
		name = user.Username
	}
	b.sendMainMenu(msg.Chat.ID, fmt.Sprintf("Привет, %s!\n\nПришлите фото — я оживлю его и превращу в короткое видео.", name))
}

func (b *Bot) attachReferral(ctx context.Context, invited *models.User, rawInviter string) {
	inviterTelegramID, err := strconv.ParseInt(rawInviter, 10, 64)
	if err != nil || inviterTelegramID == 0 {
		return
	}
	if inviterTelegramID == invited.TelegramID {
		return
	}
	inviter, err := b.users.ByTelegramID(ctx, inviterTelegramID)
	if err != nil {
		if !errors.Is(err, service.ErrAccountNotFound) {
			b.log.Error("resolve inviter", "telegram_id", inviterTelegramID, "err", err)
		}
		return
	}
	if err := b.referrals.Register(ctx, inviter.ID, invited.ID); err != nil {
		b.log.Error("register referral", "inviter", inviter.ID, "invited", invited.ID, "err", err)
	}
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user profile", "err", err)
		return
	}
	stats, err := b.referrals.Stats(ctx, user.ID)
	if err != nil {
		b.log.Error("referral stats", "user", user.ID, "err", err)
	}

	inviteLink := fmt.Sprintf("https://t.me/%s?start=ref%d", b.api.Self.UserName, user.TelegramID)
	text := fmt.Sprintf(
		"Ваш баланс: %d генераций\nВсего оплачено: %d ₽\nСделано видео: %d\n\nПриглашено друзей: %d (оплатили: %d)\nБонусов за друзей: +%d генераций\n\nПриглашайте друзей и получайте +%d генерацию за каждого, кто оплатит:\n%s",
		user.Balance, user.TotalSpent, user.TotalGenerations,
		stats.InvitedTotal, stats.InvitedPaid, stats.BonusTotal,
		b.cfg.BonusPerFriend, inviteLink,
	)

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Пополнить", "balance"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("В меню", "back_menu"),
		),
	)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send profile", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data

	switch {
	case data == "animate":
		b.ack(cb, "")
		b.state.Set(chatID, &Session{State: StateAwaitingPhoto})
		b.sendText(chatID, "Пришлите фото, которое нужно оживить.")
	case data == "balance":
		b.ack(cb, "")
		b.sendPacksMenu(chatID)
	case data == "back_menu":
		b.ack(cb, "")
		b.state.Reset(chatID)
		b.sendMainMenu(chatID, "Главное меню:")
	case strings.HasPrefix(data, "topup:"):
		b.ack(cb, "")
		b.handleTopup(ctx, cb, strings.TrimPrefix(data, "topup:"))
	case strings.HasPrefix(data, "check_payment:"):
		b.ack(cb, "Проверяю оплату…")
		b.handleCheckPayment(ctx, cb, strings.TrimPrefix(data, "check_payment:"))
	case data == "animate_now":
		b.ack(cb, "")
		session := b.state.Get(chatID)
		if session.State != StateAwaitingPrompt || session.PhotoURL == "" {
			b.sendText(chatID, "Сначала пришлите фото.")
			return
		}
		b.startAnimation(ctx, chatID, cb.From, session.PhotoURL, "")
	default:
		b.ack(cb, "Неизвестный выбор")
	}
}

func (b *Bot) handleTopup(ctx context.Context, cb *tgbotapi.CallbackQuery, rawCount string) {
	chatID := cb.Message.Chat.ID
	count, err := strconv.Atoi(rawCount)
	if err != nil || count <= 0 {
		b.sendText(chatID, "Неизвестный пакет.")
		return
	}

	user, _, err := b.ensureUser(ctx, cb.From, chatID)
	if err != nil {
		b.log.Error("ensure user topup", "err", err)
		return
	}

	amountRUB := count * b.cfg.PriceRUB
	payment, err := b.payments.InitiateTopup(ctx, user, amountRUB)
	if err != nil {
		b.log.Error("initiate topup", "user", user.ID, "amount", amountRUB, "err", err)
		b.sendText(chatID, "Не удалось создать платёж, попробуйте позже.")
		return
	}

	total := b.ledger.CalcGenerations(count)
	text := fmt.Sprintf("Счёт на %d ₽ (%d генераций", amountRUB, count)
	if total > count {
		text += fmt.Sprintf(" + %d бонусных", total-count)
	}
	text += ").\n\nПосле оплаты нажмите «Проверить оплату»."

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Оплатить", payment.PaymentURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Проверить оплату", "check_payment:"+payment.ProviderPaymentID),
		),
	)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send payment link", "err", err)
	}
}

func (b *Bot) handleCheckPayment(ctx context.Context, cb *tgbotapi.CallbackQuery, providerPaymentID string) {
	chatID := cb.Message.Chat.ID

	outcome, err := b.payments.Reconcile(ctx, providerPaymentID)
	switch {
	case errors.Is(err, service.ErrPaymentNotFound):
		b.sendText(chatID, "Платёж не найден.")
		return
	case errors.Is(err, service.ErrProviderUnavailable):
		b.sendText(chatID, "Платёжная система не отвечает, попробуйте через минуту.")
		return
	case err != nil:
		b.log.Error("reconcile payment", "payment", providerPaymentID, "err", err)
		b.sendText(chatID, "Не удалось проверить оплату, попробуйте позже.")
		return
	}

	switch {
	case outcome.Credited:
		p := outcome.Purchase
		text := fmt.Sprintf("Оплата получена! Начислено %d генераций", p.Base)
		if p.Bonus > 0 {
			text += fmt.Sprintf(" + %d бонусных", p.Bonus)
		}
		text += fmt.Sprintf(".\nВаш баланс: %d.", p.NewBalance)
		b.sendText(chatID, text)
		b.notifyInviter(ctx, outcome.BonusInviter)
	case outcome.Status.TerminalSuccess():
		b.sendText(chatID, "Эта оплата уже была зачислена.")
	case outcome.Status == models.PaymentStatusRejected:
		b.sendText(chatID, "Платёж отклонён. Попробуйте оплатить заново.")
	default:
		b.sendText(chatID, "Оплата ещё не прошла. Завершите платёж и нажмите «Проверить оплату» ещё раз.")
	}
}

func (b *Bot) notifyInviter(ctx context.Context, inviterID int64) {
	if inviterID == 0 {
		return
	}
	inviter, err := b.users.ByID(ctx, inviterID)
	if err != nil {
		b.log.Error("resolve inviter for notify", "user", inviterID, "err", err)
		return
	}
	b.sendText(inviter.TelegramID, fmt.Sprintf("Ваш друг оплатил генерации — вам начислено +%d. Текущий баланс: %d.", b.cfg.BonusPerFriend, inviter.Balance))
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) error {
	var fileID string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errNotImage
		}
		fileID = msg.Document.FileID
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return nil
	}

	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	if detectedType != "" {
		contentType = detectedType
	}

	url, err := b.storage.UploadPhoto(ctx, user.TelegramID, data, contentType)
	if err != nil {
		return err
	}

	b.state.Set(msg.Chat.ID, &Session{State: StateAwaitingPrompt, PhotoURL: url})

	reply := tgbotapi.NewMessage(msg.Chat.ID, "Фото получено! Опишите текстом, как его оживить, или запустите без описания.")
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Оживить без описания", "animate_now"),
		),
	)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send prompt request", "err", err)
	}
	return nil
}

// startAnimation checks the balance up front but charges only after the
// video was generated and delivered. A zero balance first tries the
// one-time free trial.
func (b *Bot) startAnimation(ctx context.Context, chatID int64, from *tgbotapi.User, photoURL, prompt string) {
	if photoURL == "" {
		b.sendText(chatID, "Сначала пришлите фото.")
		return
	}
	user, _, err := b.ensureUser(ctx, from, chatID)
	if err != nil {
		b.log.Error("ensure user animation", "err", err)
		return
	}

	if user.Balance <= 0 {
		granted, err := b.ledger.GrantTrial(ctx, user.ID)
		if err != nil {
			b.log.Error("grant trial", "user", user.ID, "err", err)
		}
		if !granted {
			b.sendText(chatID, "У вас закончились генерации.")
			b.sendPacksMenu(chatID)
			return
		}
		b.sendText(chatID, fmt.Sprintf("Вам начислено %d бесплатных генераций!", b.cfg.TrialCount))
	}

	b.state.Reset(chatID)
	b.sendText(chatID, "Оживляю фото, это может занять пару минут…")

	go b.runAnimation(ctx, chatID, user.ID, photoURL, prompt)
}

func (b *Bot) runAnimation(ctx context.Context, chatID, userID int64, photoURL, prompt string) {
	video, err := b.animator.Animate(ctx, kling.AnimateOptions{
		ImageURL: photoURL,
		Prompt:   prompt,
	})
	if err != nil {
		b.log.Error("animate photo", "user", userID, "err", err)
		b.sendText(chatID, "Не удалось оживить фото. Генерация не списана, попробуйте ещё раз.")
		return
	}

	msg := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(video.URL))
	msg.Caption = "Готово! Ваше оживлённое фото."
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send video", "user", userID, "err", err)
		b.sendText(chatID, "Видео готово, но не удалось отправить его: "+video.URL)
	}

	remaining, err := b.ledger.Consume(ctx, userID)
	if err != nil {
		// The video is already delivered, never claw it back.
		b.log.Error("consume generation", "user", userID, "err", err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("Осталось генераций: %d.", remaining))
}

func (b *Bot) handleAdminCompensate(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(msg.From) {
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.sendText(msg.Chat.ID, "Формат: /compensate <telegram_id> <количество>")
		return
	}
	target, err := b.adminTarget(ctx, args[0])
	if err != nil {
		b.sendText(msg.Chat.ID, err.Error())
		return
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil || delta <= 0 {
		b.sendText(msg.Chat.ID, "Количество должно быть положительным числом.")
		return
	}
	newBalance, err := b.ledger.Compensate(ctx, target.ID, delta)
	if err != nil {
		b.log.Error("compensate", "user", target.ID, "err", err)
		b.sendText(msg.Chat.ID, "Не удалось начислить компенсацию.")
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Начислено +%d. Баланс пользователя %d: %d.", delta, target.TelegramID, newBalance))
	b.sendText(target.TelegramID, fmt.Sprintf("Вам начислена компенсация: +%d генераций.", delta))
}

func (b *Bot) handleAdminGetBalance(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(msg.From) {
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		b.sendText(msg.Chat.ID, "Формат: /get_balance <telegram_id>")
		return
	}
	target, err := b.adminTarget(ctx, args[0])
	if err != nil {
		b.sendText(msg.Chat.ID, err.Error())
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf(
		"Пользователь %d (@%s)\nБаланс: %d\nОплачено всего: %d ₽\nГенераций: %d\nТриал использован: %t",
		target.TelegramID, target.Username, target.Balance, target.TotalSpent, target.TotalGenerations, target.FreeTrialUsed,
	))
}

func (b *Bot) handleAdminReset(ctx context.Context, msg *tgbotapi.Message, dropReferrals bool) {
	if !b.isAdmin(msg.From) {
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		b.sendText(msg.Chat.ID, "Формат: /reset_balance <telegram_id> или /reset_all <telegram_id>")
		return
	}
	target, err := b.adminTarget(ctx, args[0])
	if err != nil {
		b.sendText(msg.Chat.ID, err.Error())
		return
	}
	if dropReferrals {
		err = b.ledger.ResetAll(ctx, target.ID)
	} else {
		err = b.ledger.ResetBalance(ctx, target.ID)
	}
	if err != nil {
		b.log.Error("reset", "user", target.ID, "err", err)
		b.sendText(msg.Chat.ID, "Не удалось выполнить сброс.")
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Сброс выполнен для пользователя %d.", target.TelegramID))
}

func (b *Bot) adminTarget(ctx context.Context, raw string) (*models.User, error) {
	telegramID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("неверный telegram_id: %s", raw)
	}
	target, err := b.users.ByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return nil, fmt.Errorf("пользователь %d не найден", telegramID)
		}
		return nil, fmt.Errorf("не удалось найти пользователя: %v", err)
	}
	return target, nil
}

func (b *Bot) isAdmin(from *tgbotapi.User) bool {
	return from != nil && b.cfg.AdminID != 0 && from.ID == b.cfg.AdminID
}

func (b *Bot) sendMainMenu(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Оживить фото", "animate"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Баланс и пополнение", "balance"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send main menu", "err", err)
	}
}

func (b *Bot) sendPacksMenu(chatID int64) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(b.cfg.Packs)+1)
	for _, count := range b.cfg.Packs {
		total := b.ledger.CalcGenerations(count)
		label := fmt.Sprintf("%d генераций — %d ₽", count, count*b.cfg.PriceRUB)
		if total > count {
			label = fmt.Sprintf("%d+%d генераций — %d ₽", count, total-count, count*b.cfg.PriceRUB)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("topup:%d", count)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("В меню", "back_menu"),
	))

	msg := tgbotapi.NewMessage(chatID, "Выберите пакет генераций:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send packs menu", "err", err)
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.User, bool, error) {
	username := ""
	fullName := ""
	telegramID := chatID
	if from != nil {
		username = from.UserName
		fullName = strings.TrimSpace(from.FirstName + " " + from.LastName)
		telegramID = from.ID
	}
	return b.users.Ensure(ctx, telegramID, username, fullName)
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errNotImage
	}
}
