package ews

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/ewsync/internal/target"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := xml.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestEncodeContactWithoutDictionaries(t *testing.T) {
	item, err := encodeItem(&target.Contact{ID: "c1", DisplayName: "Ann"}, false)
	require.NoError(t, err)

	assert.Equal(t, `<t:Contact><t:DisplayName>Ann</t:DisplayName></t:Contact>`, marshal(t, item))
}

func TestEncodeContactWithDictionaries(t *testing.T) {
	item, err := encodeItem(&target.Contact{ID: "c1", DisplayName: "Ann", Email: "ann@example.com", Phone: "555-1"}, false)
	require.NoError(t, err)

	assert.Equal(t, `<t:Contact><t:DisplayName>Ann</t:DisplayName>`+
		`<t:EmailAddresses><t:Entry Key="EmailAddress1">ann@example.com</t:Entry></t:EmailAddresses>`+
		`<t:PhoneNumbers><t:Entry Key="MobilePhone">555-1</t:Entry></t:PhoneNumbers></t:Contact>`, marshal(t, item))
}

func TestEncodeDistributionList(t *testing.T) {
	assert.Nil(t, members(nil))
	assert.Equal(t, `<t:DistributionList><t:DisplayName>Team</t:DisplayName></t:DistributionList>`,
		marshal(t, distributionListXML{DisplayName: "Team", Members: members(nil)}))

	item, err := encodeItem(&target.Contact{ID: "l2", DisplayName: "Team", Members: []string{"a@example.com"}}, false)
	require.NoError(t, err)
	require.IsType(t, distributionListXML{}, item)
	assert.Contains(t, marshal(t, item),
		`<t:Members><t:Member><t:Mailbox><t:EmailAddress>a@example.com</t:EmailAddress></t:Mailbox></t:Member></t:Members>`)
}

// EWS rejects a SetItemField whose item carries more than one property
func TestFieldUpdatesSetOnePropertyEach(t *testing.T) {
	updates := fieldUpdates(&target.Contact{ID: "c1", DisplayName: "Ann", FirstName: "Ann", Email: "ann@example.com"}, false)
	require.NotEmpty(t, updates)

	want := map[string]string{
		uriDisplayName:  `<t:Contact><t:DisplayName>Ann</t:DisplayName></t:Contact>`,
		uriGivenName:    `<t:Contact><t:GivenName>Ann</t:GivenName></t:Contact>`,
		uriEmailAddress: `<t:Contact><t:EmailAddresses><t:Entry Key="EmailAddress1">ann@example.com</t:Entry></t:EmailAddresses></t:Contact>`,
	}
	for _, u := range updates {
		expected, ok := want[u.uri]
		if !ok {
			assert.Nil(t, u.value, "field %s should be deleted", u.uri)
			continue
		}
		assert.Equal(t, expected, marshal(t, u.value), u.uri)
	}

	list := fieldUpdates(&target.Contact{ID: "l1", DisplayName: "Team", Members: []string{"a@example.com"}}, false)
	for _, u := range list {
		if u.uri == uriMembers {
			assert.Equal(t, `<t:DistributionList><t:Members><t:Member><t:Mailbox>`+
				`<t:EmailAddress>a@example.com</t:EmailAddress></t:Mailbox></t:Member></t:Members></t:DistributionList>`, marshal(t, u.value))
		}
	}
}
