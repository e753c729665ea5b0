package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
)

// Canonical lead attributes a form field can map onto.
const (
	stdName           = "name"
	stdEmail          = "email"
	stdPhone          = "phone"
	stdInterest       = "interest"
	stdCompanyName    = "company_name"
	stdCompanyRole    = "company_role"
	stdCompanySize    = "company_size"
	stdCompanySegment = "company_segment"
)

// standardAliases maps a folded, snake_cased form key to its canonical attribute.
var standardAliases = map[string]string{
	"name": stdName, "nome": stdName, "full_name": stdName, "fullname": stdName,
	"nome_completo": stdName, "your_name": stdName, "seu_nome": stdName,

	"email": stdEmail, "e_mail": stdEmail, "mail": stdEmail, "email_address": stdEmail,
	"seu_email": stdEmail,

	"phone": stdPhone, "phone_number": stdPhone, "telefone": stdPhone, "celular": stdPhone,
	"whatsapp": stdPhone, "tel": stdPhone, "fone": stdPhone, "mobile": stdPhone,

	"interest": stdInterest, "interesse": stdInterest, "produto": stdInterest,
	"product": stdInterest, "servico": stdInterest,

	"company": stdCompanyName, "company_name": stdCompanyName, "empresa": stdCompanyName,
	"nome_empresa": stdCompanyName,

	"role": stdCompanyRole, "cargo": stdCompanyRole, "job_title": stdCompanyRole,
	"company_role": stdCompanyRole,

	"company_size": stdCompanySize, "tamanho_empresa": stdCompanySize,
	"employees": stdCompanySize, "funcionarios": stdCompanySize,

	"segment": stdCompanySegment, "segmento": stdCompanySegment, "industry": stdCompanySegment,
	"company_segment": stdCompanySegment,
}

const (
	reservedAPIKey    = "api_key"
	reservedVisitorID = "visitor_id"
)

// originKeys carry the lead origin; first match wins.
var originKeys = []string{"origin", "source", "utm_source"}

// LeadFields are the standard attributes extracted from a form.
type LeadFields struct {
	Name           string
	Email          string
	Phone          string
	Interest       string
	CompanyName    string
	CompanyRole    string
	CompanySize    string
	CompanySegment string
}

func (f *LeadFields) set(attr, value string) {
	var target *string
	switch attr {
	case stdName:
		target = &f.Name
	case stdEmail:
		target = &f.Email
	case stdPhone:
		target = &f.Phone
	case stdInterest:
		target = &f.Interest
	case stdCompanyName:
		target = &f.CompanyName
	case stdCompanyRole:
		target = &f.CompanyRole
	case stdCompanySize:
		target = &f.CompanySize
	case stdCompanySegment:
		target = &f.CompanySegment
	default:
		return
	}
	if *target == "" {
		*target = value
	}
}

// FormField is a non-standard form entry headed for the custom field registry.
type FormField struct {
	Key       string // as submitted
	Name      string // snake_case
	Value     string
	NumericID int64 // > 0 when Key is purely digits
}

// FormSubmission is a parsed form-conversion webhook.
type FormSubmission struct {
	APIKey    string
	VisitorID string
	Origin    string
	Lead      LeadFields
	Fields    []FormField
	Raw       json.RawMessage
}

// HasIdentity reports whether the form carries enough to create a lead.
func (s *FormSubmission) HasIdentity() bool {
	return s.Lead.Name != "" || s.Lead.Email != ""
}

// ParseFormSubmission splits a form body into reserved keys, standard lead
// attributes and custom fields. Null and empty values are dropped.
func ParseFormSubmission(body []byte) (*FormSubmission, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: form body is not a JSON object: %v", apperrors.ErrMalformedPayload, err)
	}

	sub := &FormSubmission{Raw: json.RawMessage(body)}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	origins := map[string]string{}
	for _, key := range keys {
		value, ok := stringifyFormValue(payload[key])
		if !ok {
			continue
		}
		name := FieldKey(key)

		switch {
		case name == reservedAPIKey:
			sub.APIKey = value
		case name == reservedVisitorID:
			sub.VisitorID = value
		case isOriginKey(name):
			origins[name] = value
		case standardAliases[name] != "":
			sub.Lead.set(standardAliases[name], value)
		case isDigits(strings.TrimSpace(key)):
			id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
			if err != nil || id <= 0 {
				continue
			}
			sub.Fields = append(sub.Fields, FormField{Key: key, Name: strings.TrimSpace(key), Value: value, NumericID: id})
		case name != "":
			sub.Fields = append(sub.Fields, FormField{Key: key, Name: name, Value: value})
		}
	}

	for _, k := range originKeys {
		if v := origins[k]; v != "" {
			sub.Origin = v
			break
		}
	}
	if sub.Origin == "" {
		sub.Origin = model.LeadOriginFormWebhook
	}
	sub.Lead.Email = strings.ToLower(sub.Lead.Email)
	return sub, nil
}

// FieldKey folds accents, splits camelCase and joins words with underscores:
// "Função Atual" → "funcao_atual", "companySize" → "company_size".
func FieldKey(raw string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	prevLower := false
	pendingSep := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && prevLower {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			pendingSep = true
			prevLower = false
		}
	}
	return b.String()
}

// stringifyFormValue renders a decoded JSON value in the uniform string storage
// format. ok is false for null and blank values.
func stringifyFormValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		s := string(data)
		return s, s != "{}" && s != "[]"
	}
}

func isOriginKey(name string) bool {
	for _, k := range originKeys {
		if k == name {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
