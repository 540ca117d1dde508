package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/atotto/clipboard"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/services"
)

// writeClipboard is a test seam for the system clipboard.
var writeClipboard = clipboard.WriteAll

const (
	qrFileName    = "gophvault-totp.png"
	maxQuestions  = 5
	timeFormatOut = "2006-01-02 15:04"
)

func (a *App) commands() map[string]command {
	return map[string]command{
		"setup":        {"setup", "create a new vault", a.cmdSetup},
		"login":        {"login", "unlock with the master password", a.cmdLogin},
		"otp":          {"otp <code>", "unlock with a one-time code (passwords stay hidden)", a.cmdOTP},
		"lock":         {"lock", "lock the vault", a.cmdLock},
		"status":       {"status", "show the session state", a.cmdStatus},
		"list":         {"list", "list accounts", a.cmdList},
		"show":         {"show <id>", "show one account with its password", a.cmdShow},
		"copy":         {"copy <id>", "copy a password to the clipboard", a.cmdCopy},
		"add":          {"add", "add an account", a.cmdAdd},
		"edit":         {"edit <id>", "edit an account, empty input keeps a value", a.cmdEdit},
		"delete":       {"delete <id>", "delete an account", a.cmdDelete},
		"passwd":       {"passwd", "change the master password", a.cmdPasswd},
		"recover":      {"recover", "reset the master password with the security answers", a.cmdRecover},
		"questions":    {"questions", "replace the security questions", a.cmdQuestions},
		"totp-enable":  {"totp-enable", "turn on the one-time code factor", a.cmdTOTPEnable},
		"totp-disable": {"totp-disable", "turn off the one-time code factor", a.cmdTOTPDisable},
		"backup":       {"backup", "take a snapshot now", a.cmdBackup},
		"backups":      {"backups", "list snapshots", a.cmdBackups},
		"restore":      {"restore <path>", "replace the store with a snapshot", a.cmdRestore},
	}
}

func (a *App) lookup(name string) (command, bool) {
	c, ok := a.cmds[name]
	return c, ok
}

func (a *App) helpLines() []string {
	out := make([]string, 0, len(a.cmds)+2)
	for _, c := range a.cmds {
		out = append(out, fmt.Sprintf("%-16s %s", c.usage, c.help))
	}
	sort.Strings(out)
	return append(out, fmt.Sprintf("%-16s %s", "help", "show this list"), fmt.Sprintf("%-16s %s", "exit", "leave the program"))
}

func (a *App) touch() { a.vault.Auth.Touch() }

func (a *App) reportError(ctx context.Context, name string, err error) {
	res := common.ToResult(err)
	a.log.Debug(ctx, "command failed", "command", name, "kind", res.ErrorKind, "error", err)
	fmt.Fprintln(a.out, errorStyle.Render("error:"), res.Message)
}

func (a *App) println(args ...any) { fmt.Fprintln(a.out, args...) }

func needArg(args []string, usage string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: usage: %s", common.ErrorValidation, usage)
	}
	return args[0], nil
}

// readNewPassword asks for a password twice.
func (a *App) readNewPassword(prompt string) ([]byte, error) {
	pw, err := GetPassword(a.in, prompt, a.out)
	if err != nil {
		return nil, err
	}
	again, err := GetPassword(a.in, "Repeat "+prompt, a.out)
	if err != nil {
		common.WipeByteArray(pw)
		return nil, err
	}
	defer common.WipeByteArray(again)
	if string(pw) != string(again) {
		common.WipeByteArray(pw)
		return nil, fmt.Errorf("%w: passwords do not match", common.ErrorValidation)
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("%w: password must not be empty", common.ErrorValidation)
	}
	return pw, nil
}

// readQuestions collects question/answer pairs until an empty question.
func (a *App) readQuestions() ([]models.QuestionAnswer, error) {
	var out []models.QuestionAnswer
	for len(out) < maxQuestions {
		q, err := GetSimpleText(a.in, fmt.Sprintf("Security question %d (empty to finish)", len(out)+1), a.out)
		if err != nil {
			return nil, err
		}
		if q == "" {
			break
		}
		ans, err := GetSimpleText(a.in, "Answer", a.out)
		if err != nil {
			return nil, err
		}
		out = append(out, models.QuestionAnswer{QuestionID: strconv.Itoa(len(out) + 1), Question: q, Answer: ans})
	}
	return out, nil
}

func (a *App) cmdSetup(ctx context.Context, _ []string) error {
	done, err := a.vault.Auth.IsSetUp(ctx)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: vault is already set up", common.ErrAlreadyExists)
	}

	pw, err := a.readNewPassword("Master password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	answers, err := a.readQuestions()
	if err != nil {
		return err
	}
	if err := a.vault.Auth.Setup(ctx, pw, answers); err != nil {
		return err
	}
	a.println("Vault created and unlocked.")
	return nil
}

func (a *App) cmdLogin(ctx context.Context, _ []string) error {
	pw, err := GetPassword(a.in, "Master password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	err = a.vault.Auth.SubmitPassword(ctx, pw)
	if errors.Is(err, common.ErrSecondFactorReq) {
		code, rerr := GetSimpleText(a.in, "One-time code", a.out)
		if rerr != nil {
			return rerr
		}
		err = a.vault.Auth.SubmitPasswordAndTOTP(ctx, pw, code)
	}
	if err != nil {
		return err
	}
	a.println("Unlocked.")
	return nil
}

func (a *App) cmdOTP(ctx context.Context, args []string) error {
	code, err := needArg(args, "otp <code>")
	if err != nil {
		return err
	}
	if err := a.vault.Auth.SubmitTOTP(ctx, code); err != nil {
		return err
	}
	a.println("Opened for listing. Use 'login' to see passwords.")
	return nil
}

func (a *App) cmdLock(ctx context.Context, _ []string) error {
	if err := a.vault.Auth.Lock(ctx); err != nil {
		return err
	}
	a.println("Locked.")
	return nil
}

func (a *App) cmdStatus(ctx context.Context, _ []string) error {
	setUp, err := a.vault.Auth.IsSetUp(ctx)
	if err != nil {
		return err
	}
	totpOn, err := a.vault.TOTP.IsEnabledWithoutSession(ctx)
	if err != nil {
		return err
	}
	a.println(headingStyle.Render("Store:"), a.cfg.StorePath)
	a.println("  set up: ", setUp)
	a.println("  state:  ", a.vault.Auth.State())
	a.println("  totp:   ", totpOn)
	return nil
}

func (a *App) cmdList(ctx context.Context, _ []string) error {
	var metas []models.AccountMeta
	skipped := 0

	if a.vault.Auth.State() == services.StateAuthenticated {
		res, err := a.vault.Credentials.List(ctx)
		if err != nil {
			return err
		}
		for _, v := range res.Accounts {
			metas = append(metas, models.AccountMeta{ID: v.ID, Name: v.Name, Username: v.Username, Website: v.Website, UpdatedAt: v.UpdatedAt})
		}
		skipped = len(res.Skipped)
	} else {
		var err error
		if metas, err = a.vault.Credentials.ListMetadata(ctx); err != nil {
			return err
		}
	}

	if len(metas) == 0 {
		a.println("No accounts.")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUSERNAME\tWEBSITE\tUPDATED")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Username, m.Website, m.UpdatedAt.Local().Format(timeFormatOut))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if skipped > 0 {
		a.println(fmt.Sprintf("%d account(s) could not be decrypted and were skipped.", skipped))
	}
	return nil
}

func (a *App) cmdShow(ctx context.Context, args []string) error {
	id, err := needArg(args, "show <id>")
	if err != nil {
		return err
	}
	v, err := a.vault.Credentials.Get(ctx, id)
	if err != nil {
		return err
	}
	a.println(headingStyle.Render(v.Name))
	a.println("  id:       ", v.ID)
	a.println("  username: ", v.Username)
	a.println("  password: ", v.Password)
	a.println("  website:  ", v.Website)
	if v.Notes != "" {
		a.println("  notes:    ", v.Notes)
	}
	a.println("  created:  ", v.CreatedAt.Local().Format(timeFormatOut))
	a.println("  updated:  ", v.UpdatedAt.Local().Format(timeFormatOut))
	return nil
}

func (a *App) cmdCopy(ctx context.Context, args []string) error {
	id, err := needArg(args, "copy <id>")
	if err != nil {
		return err
	}
	v, err := a.vault.Credentials.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := writeClipboard(v.Password); err != nil {
		return fmt.Errorf("%w: clipboard: %v", common.ErrIO, err)
	}
	a.println("Password copied to the clipboard.")
	return nil
}

// readAccount prompts for every field. Empty input keeps the value from cur.
func (a *App) readAccount(cur models.AccountInput) (models.AccountInput, error) {
	out := cur
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"Name", &out.Name},
		{"Username", &out.Username},
		{"Website", &out.Website},
	}
	for _, f := range fields {
		prompt := f.prompt
		if *f.dst != "" {
			prompt = fmt.Sprintf("%s [%s]", f.prompt, *f.dst)
		}
		s, err := GetSimpleText(a.in, prompt, a.out)
		if err != nil {
			return out, err
		}
		if s != "" {
			*f.dst = s
		}
	}

	pw, err := GetPassword(a.in, "Password", a.out)
	if err != nil {
		return out, err
	}
	if len(pw) > 0 {
		out.Password = string(pw)
	}
	common.WipeByteArray(pw)

	notes, err := GetMultiline(a.in, "Notes", a.out)
	if err != nil {
		return out, err
	}
	if notes != "" {
		out.Notes = notes
	}
	return out, nil
}

func (a *App) cmdAdd(ctx context.Context, _ []string) error {
	if a.vault.Auth.State() != services.StateAuthenticated {
		return common.ErrNotInitialized
	}
	in, err := a.readAccount(models.AccountInput{})
	if err != nil {
		return err
	}
	v, err := a.vault.Credentials.Add(ctx, in)
	if err != nil {
		return err
	}
	a.println("Added", v.ID)
	return nil
}

func (a *App) cmdEdit(ctx context.Context, args []string) error {
	id, err := needArg(args, "edit <id>")
	if err != nil {
		return err
	}
	cur, err := a.vault.Credentials.Get(ctx, id)
	if err != nil {
		return err
	}
	in, err := a.readAccount(models.AccountInput{
		Name:     cur.Name,
		Username: cur.Username,
		Password: cur.Password,
		Website:  cur.Website,
		Notes:    cur.Notes,
	})
	if err != nil {
		return err
	}
	if _, err := a.vault.Credentials.Update(ctx, id, in); err != nil {
		return err
	}
	a.println("Updated", id)
	return nil
}

func (a *App) cmdDelete(ctx context.Context, args []string) error {
	id, err := needArg(args, "delete <id>")
	if err != nil {
		return err
	}
	ok, err := Confirm(a.in, "Delete "+id+"?", a.out)
	if err != nil || !ok {
		return err
	}
	if err := a.vault.Credentials.Delete(ctx, id); err != nil {
		return err
	}
	a.println("Deleted", id)
	return nil
}

func (a *App) cmdPasswd(ctx context.Context, _ []string) error {
	if a.vault.Auth.State() != services.StateAuthenticated {
		return common.ErrNotInitialized
	}
	old, err := GetPassword(a.in, "Current master password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(old)

	pw, err := a.readNewPassword("New master password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	res, err := a.vault.Auth.ChangeMasterPassword(ctx, old, pw)
	if err != nil {
		return err
	}
	a.println(fmt.Sprintf("Master password changed, %d account(s) re-encrypted.", res.Rotated))
	return nil
}

func (a *App) cmdRecover(ctx context.Context, _ []string) error {
	if a.vault.Auth.State() != services.StateAuthenticated {
		return common.ErrNotInitialized
	}
	qs, err := a.vault.Recovery.Questions(ctx)
	if err != nil {
		return err
	}
	answers := make([]models.QuestionAnswer, 0, len(qs))
	for _, q := range qs {
		ans, err := GetSimpleText(a.in, q.Text+" (empty to skip)", a.out)
		if err != nil {
			return err
		}
		if ans != "" {
			answers = append(answers, models.QuestionAnswer{QuestionID: q.ID, Answer: ans})
		}
	}

	pw, err := a.readNewPassword("New master password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	res, err := a.vault.Auth.ResetPassword(ctx, pw, answers)
	if err != nil {
		return err
	}
	a.println(fmt.Sprintf("Master password reset, %d account(s) re-encrypted.", res.Rotated))
	return nil
}

func (a *App) cmdQuestions(ctx context.Context, _ []string) error {
	if a.vault.Auth.State() != services.StateAuthenticated {
		return common.ErrNotInitialized
	}
	answers, err := a.readQuestions()
	if err != nil {
		return err
	}
	if err := a.vault.Recovery.Setup(ctx, answers); err != nil {
		return err
	}
	a.println(fmt.Sprintf("%d security question(s) saved.", len(answers)))
	return nil
}

func (a *App) cmdTOTPEnable(ctx context.Context, _ []string) error {
	enr, err := a.vault.TOTP.Enable(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(a.cfg.QRDir, qrFileName)
	if err := os.WriteFile(path, enr.QRCode, 0o600); err != nil {
		a.log.Warn(ctx, "qr code not written", "path", path, "error", err)
		path = ""
	}

	a.println(headingStyle.Render("TOTP enabled."))
	a.println("  secret: ", enr.Secret)
	a.println("  uri:    ", enr.URI)
	if path != "" {
		a.println("  qr:     ", path)
	}
	return nil
}

func (a *App) cmdTOTPDisable(ctx context.Context, _ []string) error {
	ok, err := Confirm(a.in, "Turn off one-time codes?", a.out)
	if err != nil || !ok {
		return err
	}
	if err := a.vault.TOTP.Disable(ctx); err != nil {
		return err
	}
	a.println("TOTP disabled.")
	return nil
}

func (a *App) cmdBackup(ctx context.Context, _ []string) error {
	path, err := a.vault.Backups.Snapshot(ctx)
	if err != nil {
		return err
	}
	a.println("Snapshot written to", path)
	return nil
}

func (a *App) cmdBackups(ctx context.Context, _ []string) error {
	list, err := a.vault.Backups.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		a.println("No snapshots.")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tPATH")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\n", b.CreatedAt.Local().Format(time.DateTime), b.Path)
	}
	return tw.Flush()
}

func (a *App) cmdRestore(ctx context.Context, args []string) error {
	path, err := needArg(args, "restore <path>")
	if err != nil {
		return err
	}
	ok, err := Confirm(a.in, "Replace the store with "+path+"?", a.out)
	if err != nil || !ok {
		return err
	}
	if err := a.vault.Auth.RestoreBackup(ctx, path); err != nil {
		return err
	}
	a.println("Store restored. Log in with the password of that snapshot.")
	return nil
}
