// Package earl writes EARL reports: a processor's DOAP description
// followed by one earl:Assertion per recorded verdict.
package earl

import (
	"errors"
	"io"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/results"
)

// Report is the input of Build.
type Report struct {
	DOAP *DOAP
	// Subject overrides DOAP.Subject.
	Subject string
	// Assertor is the IRI asserting the results. Empty means the report
	// document itself.
	Assertor string
	// TestBase resolves suite-relative test ids.
	TestBase string
	Results  []results.Record
}

type assertion struct {
	Test    string
	Outcome string
	Date    string
}

var iriEscaper = strings.NewReplacer(">", "%3E", "<", "%3C", " ", "%20", `"`, "%22")

var reportTmpl = template.Must(template.New("earl").Funcs(template.FuncMap{
	"iri": func(s string) string { return "<" + iriEscaper.Replace(s) + ">" },
}).Parse(`{{.Preamble}}{{range .Assertions}}
[ a earl:Assertion;
  earl:assertedBy {{iri $.Assertor}};
  earl:subject {{iri $.Subject}};
  earl:test {{iri .Test}};
  earl:result [
    a earl:TestResult;
    earl:outcome earl:{{.Outcome}};
    dc:date "{{.Date}}"^^xsd:dateTime];
  earl:mode earl:automatic ] .
{{end}}`))

// Outcome maps a verdict to its EARL outcome. Error becomes cantTell.
func Outcome(s manifest.Status) string {
	switch s {
	case manifest.StatusPass:
		return "passed"
	case manifest.StatusFail:
		return "failed"
	}
	return "cantTell"
}

// Build writes the report as Turtle.
func Build(w io.Writer, r Report) error {
	subject := r.Subject
	preamble := withPrefixes("")
	if r.DOAP != nil {
		preamble = r.DOAP.Turtle
		if subject == "" {
			subject = r.DOAP.Subject
		}
	}
	if subject == "" {
		return errors.New("earl: no subject: DOAP names no doap:Project and none was given")
	}

	base, err := url.Parse(r.TestBase)
	if err != nil {
		return err
	}
	data := struct {
		Preamble   string
		Assertor   string
		Subject    string
		Assertions []assertion
	}{
		Preamble: preamble,
		Assertor: r.Assertor,
		Subject:  subject,
	}
	for _, rec := range r.Results {
		test := rec.TestID
		if ref, err := url.Parse(rec.TestID); err == nil {
			test = base.ResolveReference(ref).String()
		}
		data.Assertions = append(data.Assertions, assertion{
			Test:    test,
			Outcome: Outcome(rec.Outcome),
			Date:    rec.Date.UTC().Format(time.RFC3339),
		})
	}
	return reportTmpl.Execute(w, data)
}
