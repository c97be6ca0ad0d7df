package notify

import (
	"bytes"
	"html/template"

	"salonbook/backend/internal/domain"
)

type bookingEmail struct {
	Business     string
	CustomerName string
	Email        string
	Phone        string
	ServiceName  string
	Date         string
	Time         string
	Price        string
	Reference    string
	Notes        string
}

func newBookingEmail(business string, b domain.Booking) bookingEmail {
	e := bookingEmail{
		Business:     business,
		CustomerName: b.CustomerName,
		Email:        b.CustomerEmail,
		Phone:        b.CustomerPhone,
		ServiceName:  b.ServiceName,
		Date:         b.AppointmentDate.Format("Monday, 2 January 2006"),
		Time:         b.AppointmentTime.String(),
		Price:        b.Price.StringFixed(2),
		Reference:    b.ShortReference(),
	}
	if b.Notes != nil {
		e.Notes = *b.Notes
	}
	return e
}

var templates = template.Must(template.New("emails").Parse(`
{{define "received_customer"}}<p>Hi {{.CustomerName}},</p>
<p>We have received your booking for <strong>{{.ServiceName}}</strong> on {{.Date}} at {{.Time}}.</p>
<p>Your booking reference is <strong>{{.Reference}}</strong>. It will be confirmed once payment is complete.</p>
<p>{{.Business}}</p>{{end}}

{{define "received_admin"}}<p>New booking {{.Reference}}</p>
<ul>
<li>Customer: {{.CustomerName}} ({{.Email}}, {{.Phone}})</li>
<li>Service: {{.ServiceName}} ({{.Price}})</li>
<li>When: {{.Date}} at {{.Time}}</li>
{{if .Notes}}<li>Notes: {{.Notes}}</li>{{end}}
</ul>{{end}}

{{define "confirmed_customer"}}<p>Hi {{.CustomerName}},</p>
<p>Your payment was received and your <strong>{{.ServiceName}}</strong> appointment on {{.Date}} at {{.Time}} is confirmed.</p>
<p>Booking reference: <strong>{{.Reference}}</strong></p>
<p>{{.Business}}</p>{{end}}

{{define "confirmed_admin"}}<p>Booking {{.Reference}} is paid and confirmed.</p>
<ul>
<li>Customer: {{.CustomerName}} ({{.Email}}, {{.Phone}})</li>
<li>Service: {{.ServiceName}} ({{.Price}})</li>
<li>When: {{.Date}} at {{.Time}}</li>
</ul>{{end}}
`))

func render(name string, data bookingEmail) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
