package server

import (
	"bytes"
	"context"
	"html/template"

	"github.com/dockyard-archive/dockyard/config"
	"github.com/dockyard-archive/dockyard/web"
	"github.com/wneessen/go-mail"
)

const resultsMailSubject = "Your Selected Portsmouth Dockyard Archive Records"

// Mailer delivers one HTML message. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTPMailer sends through the SMTP relay in the Mail config. A new connection is dialed for
// every message.
type SMTPMailer struct {
	cfg config.ConfigMail
}

func NewSMTPMailer(cfg config.ConfigMail) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout()),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.User),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

var resultsMailTemplate = template.Must(template.New("results").Parse(`<html>
<body style="font-family: Georgia, serif; color: #2c2c2c;">
<h2>Portsmouth Dockyard Archive</h2>
<p>Dear {{.Name}},</p>
<p>Thank you for using the Portsmouth Dockyard archive. Below are the {{len .Rows}} records you selected.</p>
<table border="1" cellpadding="6" cellspacing="0" style="border-collapse: collapse;">
<tr><th>Database</th><th>Name/Headline</th><th>Craft/Type</th><th>Department/Category</th><th>Date</th><th>Notes/Content</th></tr>
{{range .Rows}}<tr><td>{{.Collection}}</td><td>{{.Title}}</td><td>{{.Kind}}</td><td>{{.Group}}</td><td>{{.Date}}</td><td>{{.Notes}}</td></tr>
{{end}}</table>
<p>Our researchers may be in touch if further information comes to light.</p>
</body>
</html>
`))

// renderResultsMail produces the HTML body for a set of selected records.
// All record text is escaped by html/template.
func renderResultsMail(name string, records []Record) (string, error) {
	data := struct {
		Name string
		Rows []recordSummary
	}{Name: name}
	for _, r := range records {
		data.Rows = append(data.Rows, r.summary())
	}
	var buf bytes.Buffer
	if err := resultsMailTemplate.Execute(&buf, &data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// resolveSelection looks up every selected record in snap. Selections that name an unknown
// collection or id are silently dropped.
func resolveSelection(snap *Snapshot, selected []SelectedRecord) []Record {
	records := []Record{}
	for _, sel := range selected {
		if r, ok := snap.Lookup(sel.Database, sel.ID); ok {
			records = append(records, r)
		}
	}
	return records
}

// SendResults mails the selected records to req.Email, and returns the number of records sent.
func (e *Engine) SendResults(ctx context.Context, req *SendRequest) (int, error) {
	selected, err := NormalizeSendRequest(req)
	if err != nil {
		return 0, err
	}
	snap, err := e.requireSnapshot()
	if err != nil {
		return 0, err
	}
	records := resolveSelection(snap, selected)
	if len(records) == 0 {
		return 0, web.NewNotFoundError("No records found", "No matching records found for the provided selection")
	}
	if e.Mailer == nil {
		return 0, errNoMailer
	}

	body, err := renderResultsMail(req.Name, records)
	if err != nil {
		return 0, err
	}
	if err := e.Mailer.Send(ctx, req.Email, resultsMailSubject, body); err != nil {
		return 0, web.NewUpstreamError("Failed to send email", "Unable to deliver email at this time. Please try again later.", err)
	}
	e.ErrorLog.Infof("Sent %v records to %v", len(records), req.Email)
	return len(records), nil
}
