package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/campaign"
	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/recipient"
	"github.com/pure-golang/bulkmail/storage"
	"github.com/pure-golang/bulkmail/template"
)

type sendFlags struct {
	csv          string
	templatePath string
	templateID   string
	subject      string
	name         string
	test         string
	rate         int
	preview      bool
	fields       fieldsFlag
	attach       listFlag
}

func parseSendFlags(args []string) (*sendFlags, error) {
	f := &sendFlags{fields: fieldsFlag{}}
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringVar(&f.csv, "csv", "", "recipients CSV file with an email column")
	fs.StringVar(&f.templatePath, "template", "", "template file (HTML or Markdown, optional YAML frontmatter)")
	fs.StringVar(&f.templateID, "template-id", "", "stored template ID")
	fs.StringVar(&f.subject, "subject", "", "subject template, overrides the template's subject")
	fs.StringVar(&f.name, "name", "", "campaign name")
	fs.StringVar(&f.test, "test", "", "send one test email to this address instead of the campaign")
	fs.IntVar(&f.rate, "rate", 0, "emails per minute, 0 uses RATE_LIMIT_EMAILS_PER_MINUTE")
	fs.BoolVar(&f.preview, "preview", false, "print the rendered subject and body for the first recipient")
	fs.Var(f.fields, "field", "name=value filling a field recipients lack, repeatable")
	fs.Var(&f.attach, "attach", "file to attach, repeatable")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	switch {
	case f.templatePath != "" && f.templateID != "":
		return nil, errors.New("-template and -template-id are exclusive")
	case f.templatePath == "" && f.templateID == "":
		return nil, errors.New("-template or -template-id is required")
	case f.csv == "" && !f.preview && f.test == "":
		return nil, errors.New("-csv is required")
	case f.rate < 0:
		return nil, errors.New("-rate must not be negative")
	}
	return f, nil
}

// request builds the campaign request from the flags. Recipients with an
// invalid address are left out and returned separately.
func (f *sendFlags) request() (req campaign.Request, invalid []string, err error) {
	req = campaign.Request{
		Name:          f.name,
		Subject:       f.subject,
		TemplateID:    f.templateID,
		FieldValues:   f.fields,
		RatePerMinute: f.rate,
	}

	if f.templatePath != "" {
		content, err := os.ReadFile(f.templatePath)
		if err != nil {
			return req, nil, errors.Wrap(err, "failed to read template")
		}
		doc, err := template.ParseDocument(content)
		if err != nil {
			return req, nil, err
		}
		req.HTML = doc.HTML
		if req.Subject == "" {
			req.Subject = doc.Subject
		}
		if req.Name == "" {
			req.Name = doc.Name
		}
	}

	if f.csv != "" {
		file, err := os.Open(f.csv)
		if err != nil {
			return req, nil, errors.Wrap(err, "failed to open recipients")
		}
		defer file.Close()
		table, err := recipient.ParseCSV(file)
		if err != nil {
			return req, nil, err
		}
		req.Recipients, invalid = recipient.Validate(table.Recipients)
	}

	if req.Name == "" {
		req.Name = "Campaign"
		if f.csv != "" {
			req.Name = filepath.Base(f.csv)
		}
	}
	return req, invalid, nil
}

func sendCommand(ctx context.Context, args []string, out io.Writer) error {
	f, err := parseSendFlags(args)
	if err != nil {
		return err
	}
	req, invalid, err := f.request()
	if err != nil {
		return err
	}
	for _, addr := range invalid {
		fmt.Fprintf(out, "skipping invalid address %q\n", addr)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{queue: cfg.QueueProvider != ""})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(f.attach) > 0 {
		if req.Attachments, err = uploadAttachments(ctx, a.objects, f.attach); err != nil {
			return err
		}
	}

	switch {
	case f.preview:
		subject, html, err := a.service.Preview(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Subject: %s\n\n%s\n", subject, html)
		return nil
	case f.test != "":
		if err := a.service.SendTest(ctx, req, f.test); err != nil {
			return err
		}
		fmt.Fprintf(out, "test email sent to %s\n", f.test)
		return nil
	}

	c, res, err := a.service.Run(ctx, req, printProgress(out))
	if c.ID != "" {
		printSummary(out, c, res)
	}
	return err
}

// uploadAttachments stores local files under storage.AttachmentsPrefix and
// returns their keys.
func uploadAttachments(ctx context.Context, objects storage.Storage, paths []string) ([]string, error) {
	if objects == nil {
		return nil, errors.New("attachments require object storage, set S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key, err := uploadAttachment(ctx, objects, p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func uploadAttachment(ctx context.Context, objects storage.Storage, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open attachment")
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", errors.Wrap(err, "failed to stat attachment")
	}

	name := filepath.Base(path)
	opts := &storage.PutOptions{ContentType: mime.TypeByExtension(filepath.Ext(name))}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	if err := objects.Put(ctx, storage.AttachmentsPrefix+name, file, info.Size(), opts); err != nil {
		return "", errors.Wrapf(err, "failed to upload attachment %s", name)
	}
	return name, nil
}

func printProgress(out io.Writer) dispatch.ProgressFunc {
	return func(e dispatch.Event) {
		fmt.Fprintf(out, "[%d/%d] %s\n", e.Current, e.Total, e.Message)
	}
}

func printSummary(out io.Writer, c campaign.Campaign, res dispatch.Result) {
	fmt.Fprintf(out, "\ncampaign %s %s: %d sent, %d failed of %d\n", c.ID, c.Status, res.Sent, res.Failed, res.Total)
	for _, f := range res.Errors {
		fmt.Fprintf(out, "  %s: %s\n", f.Email, f.Message)
	}
}
