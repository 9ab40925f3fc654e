package ews

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/folder"
)

type findFolderRequest struct {
	XMLName   xml.Name              `xml:"m:FindFolder"`
	Traversal string                `xml:"Traversal,attr"`
	Shape     shape                 `xml:"m:FolderShape"`
	View      indexedPageView       `xml:"m:IndexedPageFolderView"`
	Parent    distinguishedParentID `xml:"m:ParentFolderIds"`
}

type shape struct {
	BaseShape  string     `xml:"t:BaseShape"`
	Additional []fieldURI `xml:"t:AdditionalProperties>t:FieldURI"`
}

type fieldURI struct {
	FieldURI string `xml:"FieldURI,attr"`
}

type indexedPageView struct {
	MaxEntriesReturned int    `xml:"MaxEntriesReturned,attr"`
	Offset             int    `xml:"Offset,attr"`
	BasePoint          string `xml:"BasePoint,attr"`
}

type distinguishedParentID struct {
	Folder distinguishedFolderID `xml:"t:DistinguishedFolderId"`
}

type findFolderResponse struct {
	Messages []findFolderMessage `xml:"ResponseMessages>FindFolderResponseMessage"`
}

type findFolderMessage struct {
	responseMessage
	Root struct {
		IncludesLastItemInRange bool `xml:"IncludesLastItemInRange,attr"`
		TotalItemsInView        int  `xml:"TotalItemsInView,attr"`
		Folders                 struct {
			List []rawFolder `xml:",any"`
		} `xml:"Folders"`
	} `xml:"RootFolder"`
}

type rawFolder struct {
	XMLName     xml.Name
	FolderID    folderID `xml:"FolderId"`
	ParentID    folderID `xml:"ParentFolderId"`
	FolderClass string   `xml:"FolderClass"`
	DisplayName string   `xml:"DisplayName"`
}

// folderType maps an EWS folder class to a folder type
func folderType(class string) folder.Type {
	switch {
	case strings.HasPrefix(class, "IPF.Contact"):
		return folder.TypeAddressBook
	case strings.HasPrefix(class, "IPF.Appointment"):
		return folder.TypeCalendar
	case strings.HasPrefix(class, "IPF.Task"):
		return folder.TypeTask
	case strings.HasPrefix(class, "IPF.Note"):
		return folder.TypeMail
	default:
		return folder.TypeOther
	}
}

// ListFolders returns every folder below the mailbox root in server order.
// Folders whose parent is not part of the listing are reported as top level.
func (c *Client) ListFolders(ctx context.Context, acct *account.Account) ([]folder.RemoteFolder, error) {
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	var raw []rawFolder
	for offset := 0; ; {
		req := findFolderRequest{
			Traversal: "Deep",
			Shape: shape{
				BaseShape:  "Default",
				Additional: []fieldURI{{FieldURI: "folder:FolderClass"}, {FieldURI: "folder:ParentFolderId"}},
			},
			View:   indexedPageView{MaxEntriesReturned: pageSize, Offset: offset, BasePoint: "Beginning"},
			Parent: distinguishedParentID{Folder: distinguishedFolderID{ID: "msgfolderroot"}},
		}

		var resp findFolderResponse
		if err := c.call(ctx, acct, req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Messages) == 0 {
			return nil, &Error{Code: CodeInvalidResponse, Message: "FindFolder returned no response message"}
		}
		msg := resp.Messages[0]
		if err := msg.err(); err != nil {
			return nil, err
		}

		raw = append(raw, msg.Root.Folders.List...)
		if msg.Root.IncludesLastItemInRange || len(msg.Root.Folders.List) == 0 {
			break
		}
		offset += len(msg.Root.Folders.List)
	}

	known := make(map[string]bool, len(raw))
	for _, f := range raw {
		known[f.FolderID.ID] = true
	}

	folders := make([]folder.RemoteFolder, 0, len(raw))
	for _, f := range raw {
		if f.XMLName.Local == "SearchFolder" || f.FolderID.ID == "" {
			continue
		}
		parent := folder.RootParentID
		if known[f.ParentID.ID] {
			parent = f.ParentID.ID
		}
		folders = append(folders, folder.RemoteFolder{
			ID:       f.FolderID.ID,
			ParentID: parent,
			Name:     f.DisplayName,
			Type:     folderType(f.FolderClass),
		})
	}

	c.logger.Debug("Listed folders", "account_id", acct.ID, "count", len(folders))
	return folders, nil
}
