package server

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
)

const errorTemplateSrc = `<!DOCTYPE html>
<html>
<head><title>{{.ErrType}}</title></head>
<body>
<h1>{{.ErrType}}</h1>
<p>{{.ErrMsg}}</p>
</body>
</html>`

const stubInteractionTemplateSrc = `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>{{.Title}}</h1>
<form method="post" action="{{.Action}}">
<input type="hidden" name="challenge_id" value="{{.ChallengeID}}">
<label>User ID <input type="text" name="user_id"></label>
<label>Email <input type="text" name="email"></label>
<button type="submit">Continue</button>
</form>
</body>
</html>`

const stubConfirmTemplateSrc = `<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Detail}}</p>
<form method="post" action="{{.Action}}">
<input type="hidden" name="challenge_id" value="{{.ChallengeID}}">
<input type="hidden" name="type" value="{{.Type}}">
<button type="submit" name="action" value="allow">Allow</button>
<button type="submit" name="action" value="deny">Deny</button>
</form>
</body>
</html>`

type templates struct {
	errorTmpl       *template.Template
	interactionTmpl *template.Template
	confirmTmpl     *template.Template
}

// loadTemplates parses the templates this core renders directly when no
// external UIURL is configured: the HTML error page for pre-redirect-
// validated failures (spec §4.9), and the internal stub interaction pages
// for login and for reauth/consent confirmation (spec §4.4). A production
// deployment is expected to supply a real UIURL and never render the stubs.
func loadTemplates() *templates {
	return &templates{
		errorTmpl:       template.Must(template.New("error.html").Parse(errorTemplateSrc)),
		interactionTmpl: template.Must(template.New("interaction.html").Parse(stubInteractionTemplateSrc)),
		confirmTmpl:     template.Must(template.New("confirm.html").Parse(stubConfirmTemplateSrc)),
	}
}

func (t *templates) err(w http.ResponseWriter, r *http.Request, status int, msg string) error {
	data := struct {
		ErrType string
		ErrMsg  string
	}{http.StatusText(status), msg}

	var buf bytes.Buffer
	if err := t.errorTmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering error template: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func (t *templates) stubInteraction(w http.ResponseWriter, title, action, challengeID string) error {
	data := struct {
		Title       string
		Action      string
		ChallengeID string
	}{title, action, challengeID}

	var buf bytes.Buffer
	if err := t.interactionTmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering interaction template: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

func (t *templates) stubConfirm(w http.ResponseWriter, title, detail, action, challengeID, typ string) error {
	data := struct {
		Title       string
		Detail      string
		Action      string
		ChallengeID string
		Type        string
	}{title, detail, action, challengeID, typ}

	var buf bytes.Buffer
	if err := t.confirmTmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering confirm template: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}
