package ews

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/changelog"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/target"
)

// maxSyncChanges is the server limit for MaxChangesReturned
const maxSyncChanges = 512

// ChangeSet is one page of server changes for a folder
type ChangeSet struct {
	Changes []target.RemoteChange
	// Cursor resumes the next pull after this page
	Cursor        string
	MoreAvailable bool
}

// OutgoingChange is one local change to upload
type OutgoingChange struct {
	EntryID   int64
	Revision  int
	Kind      changelog.Kind
	ItemID    string
	RemoteID  string
	ChangeKey string
	// Payload is nil for deletes
	Payload target.Payload
}

// PushResult reports the outcome of one OutgoingChange
type PushResult struct {
	EntryID   int64
	Revision  int
	ItemID    string
	RemoteID  string
	ChangeKey string
	Accepted  bool
	Code      string
	Message   string
}

type folderIDParent struct {
	FolderID folderID `xml:"t:FolderId"`
}

type syncFolderItemsRequest struct {
	XMLName    xml.Name       `xml:"m:SyncFolderItems"`
	Shape      shape          `xml:"m:ItemShape"`
	Folder     folderIDParent `xml:"m:SyncFolderId"`
	SyncState  string         `xml:"m:SyncState,omitempty"`
	MaxChanges int            `xml:"m:MaxChangesReturned"`
}

type syncFolderItemsResponse struct {
	Messages []syncFolderItemsMessage `xml:"ResponseMessages>SyncFolderItemsResponseMessage"`
}

type syncFolderItemsMessage struct {
	responseMessage
	SyncState               string `xml:"SyncState"`
	IncludesLastItemInRange bool   `xml:"IncludesLastItemInRange"`
	Changes                 struct {
		List []syncChange `xml:",any"`
	} `xml:"Changes"`
}

type syncChange struct {
	XMLName xml.Name
	ItemID  itemID    `xml:"ItemId"`
	Items   []rawItem `xml:",any"`
}

type getItemRequest struct {
	XMLName xml.Name `xml:"m:GetItem"`
	Shape   shape    `xml:"m:ItemShape"`
	ItemIDs []itemID `xml:"m:ItemIds>t:ItemId"`
}

type createItemRequest struct {
	XMLName                xml.Name       `xml:"m:CreateItem"`
	SendMeetingInvitations string         `xml:"SendMeetingInvitations,attr"`
	SavedItemFolder        folderIDParent `xml:"m:SavedItemFolderId"`
	Items                  []any          `xml:"m:Items>t:Item"`
}

type updateItemRequest struct {
	XMLName            xml.Name        `xml:"m:UpdateItem"`
	ConflictResolution string          `xml:"ConflictResolution,attr"`
	SendInvitations    string          `xml:"SendMeetingInvitationsOrCancellations,attr"`
	Changes            []itemChangeXML `xml:"m:ItemChanges>t:ItemChange"`
}

type itemChangeXML struct {
	ItemID itemID               `xml:"t:ItemId"`
	Set    []setItemFieldXML    `xml:"t:Updates>t:SetItemField"`
	Delete []deleteItemFieldXML `xml:"t:Updates>t:DeleteItemField"`
}

type setItemFieldXML struct {
	FieldURI *fieldURI        `xml:"t:FieldURI"`
	Indexed  *indexedFieldURI `xml:"t:IndexedFieldURI"`
	Item     any
}

type deleteItemFieldXML struct {
	FieldURI *fieldURI        `xml:"t:FieldURI"`
	Indexed  *indexedFieldURI `xml:"t:IndexedFieldURI"`
}

type deleteItemRequest struct {
	XMLName           xml.Name `xml:"m:DeleteItem"`
	DeleteType        string   `xml:"DeleteType,attr"`
	SendCancellations string   `xml:"SendMeetingCancellations,attr"`
	AffectedTasks     string   `xml:"AffectedTaskOccurrences,attr"`
	ItemIDs           []itemID `xml:"m:ItemIds>t:ItemId"`
}

// itemResponse decodes Create/Update/Delete/GetItem responses
type itemResponse struct {
	ResponseMessages struct {
		List []itemResponseMessage `xml:",any"`
	} `xml:"ResponseMessages"`
}

type itemResponseMessage struct {
	responseMessage
	Items struct {
		List []rawItem `xml:",any"`
	} `xml:"Items"`
}

func (m itemResponseMessage) item() rawItem {
	if len(m.Items.List) == 0 {
		return rawItem{}
	}
	return m.Items.List[0]
}

// PullChanges fetches the next page of changes of a folder since cursor.
// An empty cursor starts a full initial sync.
func (c *Client) PullChanges(ctx context.Context, acct *account.Account, f *folder.Folder, cursor string) (*ChangeSet, error) {
	pageSize := c.cfg.PageSize
	if pageSize <= 0 || pageSize > maxSyncChanges {
		pageSize = maxSyncChanges
	}

	req := syncFolderItemsRequest{
		Shape:      shape{BaseShape: "AllProperties"},
		Folder:     folderIDParent{FolderID: folderID{ID: f.FolderID}},
		SyncState:  cursor,
		MaxChanges: pageSize,
	}

	var resp syncFolderItemsResponse
	if err := c.call(ctx, acct, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, &Error{Code: CodeInvalidResponse, Message: "SyncFolderItems returned no response message"}
	}
	msg := resp.Messages[0]
	if err := msg.err(); err != nil {
		return nil, err
	}

	page := &ChangeSet{Cursor: msg.SyncState, MoreAvailable: !msg.IncludesLastItemInRange}
	var lists []int
	for _, ch := range msg.Changes.List {
		switch ch.XMLName.Local {
		case "Delete":
			if ch.ItemID.ID != "" {
				page.Changes = append(page.Changes, target.RemoteChange{Op: target.OpDelete, RemoteID: ch.ItemID.ID})
			}
		case "Create", "Update":
			op := target.OpCreate
			if ch.XMLName.Local == "Update" {
				op = target.OpUpdate
			}
			for _, item := range ch.Items {
				p := item.payload()
				if p == nil || item.ItemID.ID == "" {
					continue
				}
				if item.XMLName.Local == "DistributionList" {
					lists = append(lists, len(page.Changes))
				}
				page.Changes = append(page.Changes, target.RemoteChange{
					Op:        op,
					RemoteID:  item.ItemID.ID,
					ChangeKey: item.ItemID.ChangeKey,
					Payload:   p,
				})
			}
		}
	}

	if len(lists) > 0 {
		if err := c.fillMembers(ctx, acct, page.Changes, lists); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("Pulled changes", "account_id", acct.ID, "folder_id", f.FolderID, "changes", len(page.Changes), "more", page.MoreAvailable)
	return page, nil
}

// fillMembers loads the members of distribution lists, which SyncFolderItems does not return
func (c *Client) fillMembers(ctx context.Context, acct *account.Account, changes []target.RemoteChange, lists []int) error {
	req := getItemRequest{
		Shape: shape{BaseShape: "IdOnly", Additional: []fieldURI{{FieldURI: uriMembers}}},
	}
	for _, i := range lists {
		req.ItemIDs = append(req.ItemIDs, itemID{ID: changes[i].RemoteID})
	}

	var resp itemResponse
	if err := c.call(ctx, acct, req, &resp); err != nil {
		return err
	}
	if len(resp.ResponseMessages.List) != len(lists) {
		return &Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("GetItem returned %d messages for %d items", len(resp.ResponseMessages.List), len(lists))}
	}

	for n, msg := range resp.ResponseMessages.List {
		if err := msg.err(); err != nil {
			// the list may have been deleted since the sync page was built
			c.logger.Debug("Skipping distribution list members", "remote_id", changes[lists[n]].RemoteID, "error", err)
			continue
		}
		if contact, ok := changes[lists[n]].Payload.(*target.Contact); ok {
			contact.Members = msg.item().Members
		}
	}
	return nil
}

// PushChanges uploads local changes to a folder. Results are in the order of
// changes. Creates, updates and deletes are sent as one request each; when a
// request fails the results of the requests already sent are returned along
// with the error.
func (c *Client) PushChanges(ctx context.Context, acct *account.Account, f *folder.Folder, changes []OutgoingChange) ([]PushResult, error) {
	results := make([]PushResult, len(changes))
	var creates, updates, deletes []int
	for i, ch := range changes {
		results[i] = PushResult{EntryID: ch.EntryID, Revision: ch.Revision, ItemID: ch.ItemID, RemoteID: ch.RemoteID, ChangeKey: ch.ChangeKey}
		switch {
		case ch.Kind == changelog.KindDeleted:
			if ch.RemoteID == "" {
				// never reached the server
				results[i].Accepted = true
				continue
			}
			deletes = append(deletes, i)
		case ch.RemoteID == "":
			creates = append(creates, i)
		default:
			updates = append(updates, i)
		}
	}

	task := f.Type == folder.TypeTask
	steps := []struct {
		idx []int
		run func([]int) error
	}{
		{creates, func(idx []int) error { return c.createItems(ctx, acct, f, changes, results, idx, task) }},
		{updates, func(idx []int) error { return c.updateItems(ctx, acct, changes, results, idx, task) }},
		{deletes, func(idx []int) error { return c.deleteItems(ctx, acct, changes, results, idx) }},
	}
	for _, step := range steps {
		if len(step.idx) == 0 {
			continue
		}
		if err := step.run(step.idx); err != nil {
			// results of a failed request are never marked accepted
			var done []PushResult
			for _, r := range results {
				if r.Accepted {
					done = append(done, r)
				}
			}
			return done, err
		}
	}

	c.logger.Debug("Pushed changes", "account_id", acct.ID, "folder_id", f.FolderID, "creates", len(creates), "updates", len(updates), "deletes", len(deletes))
	return results, nil
}

// itemMessages checks that a response carries one message per request item
func itemMessages(op string, resp *itemResponse, want int) ([]itemResponseMessage, error) {
	got := resp.ResponseMessages.List
	if len(got) != want {
		return nil, &Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("%s returned %d messages for %d items", op, len(got), want)}
	}
	return got, nil
}

func (c *Client) createItems(ctx context.Context, acct *account.Account, f *folder.Folder, changes []OutgoingChange, results []PushResult, idx []int, task bool) error {
	req := createItemRequest{
		SendMeetingInvitations: "SendToNone",
		SavedItemFolder:        folderIDParent{FolderID: folderID{ID: f.FolderID}},
	}
	var sent []int
	for _, i := range idx {
		item, err := encodeItem(changes[i].Payload, task)
		if err != nil {
			results[i].Code = CodeInvalidResponse
			results[i].Message = err.Error()
			continue
		}
		req.Items = append(req.Items, item)
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return nil
	}

	var resp itemResponse
	if err := c.call(ctx, acct, req, &resp); err != nil {
		return err
	}
	msgs, err := itemMessages("CreateItem", &resp, len(sent))
	if err != nil {
		return err
	}
	for n, i := range sent {
		applyResult(&results[i], msgs[n], false)
	}
	return nil
}

func (c *Client) updateItems(ctx context.Context, acct *account.Account, changes []OutgoingChange, results []PushResult, idx []int, task bool) error {
	req := updateItemRequest{
		ConflictResolution: "AlwaysOverwrite",
		SendInvitations:    "SendToNone",
	}
	var sent []int
	for _, i := range idx {
		updates := fieldUpdates(changes[i].Payload, task)
		if len(updates) == 0 {
			results[i].Code = CodeInvalidResponse
			results[i].Message = fmt.Sprintf("%v: %T", errUnsupportedPayload, changes[i].Payload)
			continue
		}
		change := itemChangeXML{ItemID: itemID{ID: changes[i].RemoteID, ChangeKey: changes[i].ChangeKey}}
		for _, u := range updates {
			var uri *fieldURI
			var indexed *indexedFieldURI
			if u.index != "" {
				indexed = &indexedFieldURI{FieldURI: u.uri, FieldIndex: u.index}
			} else {
				uri = &fieldURI{FieldURI: u.uri}
			}
			if u.value == nil {
				change.Delete = append(change.Delete, deleteItemFieldXML{FieldURI: uri, Indexed: indexed})
			} else {
				change.Set = append(change.Set, setItemFieldXML{FieldURI: uri, Indexed: indexed, Item: u.value})
			}
		}
		req.Changes = append(req.Changes, change)
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return nil
	}

	var resp itemResponse
	if err := c.call(ctx, acct, req, &resp); err != nil {
		return err
	}
	msgs, err := itemMessages("UpdateItem", &resp, len(sent))
	if err != nil {
		return err
	}
	for n, i := range sent {
		applyResult(&results[i], msgs[n], false)
	}
	return nil
}

func (c *Client) deleteItems(ctx context.Context, acct *account.Account, changes []OutgoingChange, results []PushResult, idx []int) error {
	req := deleteItemRequest{
		DeleteType:        "MoveToDeletedItems",
		SendCancellations: "SendToNone",
		AffectedTasks:     "AllOccurrences",
	}
	for _, i := range idx {
		req.ItemIDs = append(req.ItemIDs, itemID{ID: changes[i].RemoteID})
	}

	var resp itemResponse
	if err := c.call(ctx, acct, req, &resp); err != nil {
		return err
	}
	msgs, err := itemMessages("DeleteItem", &resp, len(idx))
	if err != nil {
		return err
	}
	for n, i := range idx {
		applyResult(&results[i], msgs[n], true)
	}
	return nil
}

// applyResult records one response message. A delete of an item that is
// already gone counts as accepted.
func applyResult(r *PushResult, msg itemResponseMessage, deleting bool) {
	if err := msg.err(); err != nil {
		if deleting && msg.ResponseCode == CodeItemNotFound {
			r.Accepted = true
			return
		}
		r.Code = msg.ResponseCode
		r.Message = msg.MessageText
		return
	}

	r.Accepted = true
	if id := msg.item().ItemID; id.ID != "" {
		r.RemoteID = id.ID
		r.ChangeKey = id.ChangeKey
	}
}
