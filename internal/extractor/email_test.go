package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func crlf(s string) []byte { return []byte(strings.ReplaceAll(s, "\n", "\r\n")) }

func TestEmailPlainWithAttachment(t *testing.T) {
	msg := crlf(`From: "Ada Lovelace" <ada@example.com>
To: bob@example.com, Carol <carol@example.com>
Cc: dave@example.com
Subject: =?UTF-8?B?UXVhcnRlcmx5IHLDqXN1bHRz?=
Date: Mon, 02 Jan 2006 15:04:05 +0000
Message-ID: <abc123@example.com>
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XYZ"

--XYZ
Content-Type: multipart/alternative; boundary="ALT"

--ALT
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

Numbers are =E2=82=AC10k up.
--ALT
Content-Type: text/html; charset=utf-8

<p>Numbers are <b>up</b>.</p>
--ALT--
--XYZ
Content-Type: application/pdf; name="report.pdf"
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--XYZ--
`)
	res, err := NewEmailExtractor(NewHTMLExtractor()).Extract(context.Background(), msg, "message/rfc822", defaultConfig())
	require.NoError(t, err)

	meta, ok := res.Metadata.Format.(*types.EmailMetadata)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", meta.FromEmail)
	assert.Equal(t, "Ada Lovelace", meta.FromName)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, meta.ToEmails)
	assert.Equal(t, []string{"dave@example.com"}, meta.CcEmails)
	assert.Equal(t, "abc123@example.com", meta.MessageID)
	assert.Equal(t, []string{"report.pdf"}, meta.Attachments)

	assert.Equal(t, "Quarterly résults", res.Metadata.Subject)
	assert.Equal(t, "2006-01-02T15:04:05Z", res.Metadata.Date)
	assert.Equal(t, strings.Join([]string{
		"Subject: Quarterly résults",
		"From: ada@example.com",
		"To: bob@example.com, carol@example.com",
		"CC: dave@example.com",
		"Date: 2006-01-02T15:04:05Z",
		"Numbers are €10k up.",
		"Attachments: report.pdf",
	}, "\n"), res.Content)
}

func TestEmailHTMLOnly(t *testing.T) {
	msg := crlf(`From: a@example.com
Subject: hi
Content-Type: text/html; charset=iso-8859-1

<p>Caf` + "\xe9" + ` <em>ouvert</em></p>
`)
	res, err := NewEmailExtractor(NewHTMLExtractor()).Extract(context.Background(), msg, "message/rfc822", defaultConfig())
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Café *ouvert*")
}

func TestEmailWithoutContentType(t *testing.T) {
	res, err := NewEmailExtractor(NewHTMLExtractor()).Extract(context.Background(), crlf("Subject: bare\n\njust text\n"), "message/rfc822", defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "Subject: bare\njust text", res.Content)
}
