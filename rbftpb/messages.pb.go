// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// Code generated from messages.proto; hand-maintained in this module
// because no protoc toolchain is available in this environment. The
// struct shapes, field tags and oneof wrapper pattern below follow
// protoc-gen-gogo's plain (non-marshaler-plugin) output byte for byte, so
// github.com/gogo/protobuf/proto's reflection-based Marshal/Unmarshal
// works against these types exactly as it would against generated code.

package rbftpb

import (
	fmt "fmt"

	proto "github.com/gogo/protobuf/proto"
)

type TaaAcceptance struct {
	Mechanism string `protobuf:"bytes,1,opt,name=mechanism,proto3" json:"mechanism,omitempty"`
	TaaDigest []byte `protobuf:"bytes,2,opt,name=taa_digest,json=taaDigest,proto3" json:"taa_digest,omitempty"`
	Time      uint64 `protobuf:"varint,3,opt,name=time,proto3" json:"time,omitempty"`
}

func (m *TaaAcceptance) Reset()         { *m = TaaAcceptance{} }
func (m *TaaAcceptance) String() string { return proto.CompactTextString(m) }
func (*TaaAcceptance) ProtoMessage()    {}

type RequestData struct {
	Identifier     string         `protobuf:"bytes,1,opt,name=identifier,proto3" json:"identifier,omitempty"`
	ReqId          uint64         `protobuf:"varint,2,opt,name=req_id,json=reqId,proto3" json:"req_id,omitempty"`
	Operation      []byte         `protobuf:"bytes,3,opt,name=operation,proto3" json:"operation,omitempty"`
	Signature      []byte         `protobuf:"bytes,4,opt,name=signature,proto3" json:"signature,omitempty"`
	PayloadDigest  []byte         `protobuf:"bytes,5,opt,name=payload_digest,json=payloadDigest,proto3" json:"payload_digest,omitempty"`
	FullDigest     []byte         `protobuf:"bytes,6,opt,name=full_digest,json=fullDigest,proto3" json:"full_digest,omitempty"`
	TaaAcceptance  *TaaAcceptance `protobuf:"bytes,7,opt,name=taa_acceptance,json=taaAcceptance,proto3" json:"taa_acceptance,omitempty"`
}

func (m *RequestData) Reset()         { *m = RequestData{} }
func (m *RequestData) String() string { return proto.CompactTextString(m) }
func (*RequestData) ProtoMessage()    {}

type Propagate struct {
	Request      *RequestData `protobuf:"bytes,1,opt,name=request,proto3" json:"request,omitempty"`
	SenderClient string       `protobuf:"bytes,2,opt,name=sender_client,json=senderClient,proto3" json:"sender_client,omitempty"`
}

func (m *Propagate) Reset()         { *m = Propagate{} }
func (m *Propagate) String() string { return proto.CompactTextString(m) }
func (*Propagate) ProtoMessage()    {}

type BlsMultiSig struct {
	Signature    []byte   `protobuf:"bytes,1,opt,name=signature,proto3" json:"signature,omitempty"`
	Participants []string `protobuf:"bytes,2,rep,name=participants,proto3" json:"participants,omitempty"`
}

func (m *BlsMultiSig) Reset()         { *m = BlsMultiSig{} }
func (m *BlsMultiSig) String() string { return proto.CompactTextString(m) }
func (*BlsMultiSig) ProtoMessage()    {}

type BlsSig struct {
	Signature   []byte `protobuf:"bytes,1,opt,name=signature,proto3" json:"signature,omitempty"`
	Participant string `protobuf:"bytes,2,opt,name=participant,proto3" json:"participant,omitempty"`
}

func (m *BlsSig) Reset()         { *m = BlsSig{} }
func (m *BlsSig) String() string { return proto.CompactTextString(m) }
func (*BlsSig) ProtoMessage()    {}

type PrePrepare struct {
	InstId        uint32       `protobuf:"varint,1,opt,name=inst_id,json=instId,proto3" json:"inst_id,omitempty"`
	ViewNo        uint64       `protobuf:"varint,2,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	PpSeqNo       uint64       `protobuf:"varint,3,opt,name=pp_seq_no,json=ppSeqNo,proto3" json:"pp_seq_no,omitempty"`
	PpTime        int64        `protobuf:"varint,4,opt,name=pp_time,json=ppTime,proto3" json:"pp_time,omitempty"`
	LedgerId      uint32       `protobuf:"varint,5,opt,name=ledger_id,json=ledgerId,proto3" json:"ledger_id,omitempty"`
	ReqIdr        [][]byte     `protobuf:"bytes,6,rep,name=req_idr,json=reqIdr,proto3" json:"req_idr,omitempty"`
	Digest        []byte       `protobuf:"bytes,7,opt,name=digest,proto3" json:"digest,omitempty"`
	StateRoot     []byte       `protobuf:"bytes,8,opt,name=state_root,json=stateRoot,proto3" json:"state_root,omitempty"`
	TxnRoot       []byte       `protobuf:"bytes,9,opt,name=txn_root,json=txnRoot,proto3" json:"txn_root,omitempty"`
	SubSeqNo      uint32       `protobuf:"varint,10,opt,name=sub_seq_no,json=subSeqNo,proto3" json:"sub_seq_no,omitempty"`
	Final         bool         `protobuf:"varint,11,opt,name=final,proto3" json:"final,omitempty"`
	PoolStateRoot []byte       `protobuf:"bytes,12,opt,name=pool_state_root,json=poolStateRoot,proto3" json:"pool_state_root,omitempty"`
	AuditTxnRoot  []byte       `protobuf:"bytes,13,opt,name=audit_txn_root,json=auditTxnRoot,proto3" json:"audit_txn_root,omitempty"`
	BlsMultiSig   *BlsMultiSig `protobuf:"bytes,14,opt,name=bls_multi_sig,json=blsMultiSig,proto3" json:"bls_multi_sig,omitempty"`
}

func (m *PrePrepare) Reset()         { *m = PrePrepare{} }
func (m *PrePrepare) String() string { return proto.CompactTextString(m) }
func (*PrePrepare) ProtoMessage()    {}

type Prepare struct {
	InstId    uint32  `protobuf:"varint,1,opt,name=inst_id,json=instId,proto3" json:"inst_id,omitempty"`
	ViewNo    uint64  `protobuf:"varint,2,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	PpSeqNo   uint64  `protobuf:"varint,3,opt,name=pp_seq_no,json=ppSeqNo,proto3" json:"pp_seq_no,omitempty"`
	Digest    []byte  `protobuf:"bytes,4,opt,name=digest,proto3" json:"digest,omitempty"`
	StateRoot []byte  `protobuf:"bytes,5,opt,name=state_root,json=stateRoot,proto3" json:"state_root,omitempty"`
	TxnRoot   []byte  `protobuf:"bytes,6,opt,name=txn_root,json=txnRoot,proto3" json:"txn_root,omitempty"`
	BlsSig    *BlsSig `protobuf:"bytes,7,opt,name=bls_sig,json=blsSig,proto3" json:"bls_sig,omitempty"`
}

func (m *Prepare) Reset()         { *m = Prepare{} }
func (m *Prepare) String() string { return proto.CompactTextString(m) }
func (*Prepare) ProtoMessage()    {}

type Commit struct {
	InstId  uint32  `protobuf:"varint,1,opt,name=inst_id,json=instId,proto3" json:"inst_id,omitempty"`
	ViewNo  uint64  `protobuf:"varint,2,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	PpSeqNo uint64  `protobuf:"varint,3,opt,name=pp_seq_no,json=ppSeqNo,proto3" json:"pp_seq_no,omitempty"`
	BlsSig  *BlsSig `protobuf:"bytes,4,opt,name=bls_sig,json=blsSig,proto3" json:"bls_sig,omitempty"`
}

func (m *Commit) Reset()         { *m = Commit{} }
func (m *Commit) String() string { return proto.CompactTextString(m) }
func (*Commit) ProtoMessage()    {}

type Checkpoint struct {
	InstId     uint32 `protobuf:"varint,1,opt,name=inst_id,json=instId,proto3" json:"inst_id,omitempty"`
	ViewNo     uint64 `protobuf:"varint,2,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	SeqNoStart uint64 `protobuf:"varint,3,opt,name=seq_no_start,json=seqNoStart,proto3" json:"seq_no_start,omitempty"`
	SeqNoEnd   uint64 `protobuf:"varint,4,opt,name=seq_no_end,json=seqNoEnd,proto3" json:"seq_no_end,omitempty"`
	Digest     []byte `protobuf:"bytes,5,opt,name=digest,proto3" json:"digest,omitempty"`
}

func (m *Checkpoint) Reset()         { *m = Checkpoint{} }
func (m *Checkpoint) String() string { return proto.CompactTextString(m) }
func (*Checkpoint) ProtoMessage()    {}

type InstanceChange struct {
	ViewNo uint64 `protobuf:"varint,1,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	Reason string `protobuf:"bytes,2,opt,name=reason,proto3" json:"reason,omitempty"`
}

func (m *InstanceChange) Reset()         { *m = InstanceChange{} }
func (m *InstanceChange) String() string { return proto.CompactTextString(m) }
func (*InstanceChange) ProtoMessage()    {}

type ThreePcKey struct {
	ViewNo  uint64 `protobuf:"varint,1,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	PpSeqNo uint64 `protobuf:"varint,2,opt,name=pp_seq_no,json=ppSeqNo,proto3" json:"pp_seq_no,omitempty"`
}

func (m *ThreePcKey) Reset()         { *m = ThreePcKey{} }
func (m *ThreePcKey) String() string { return proto.CompactTextString(m) }
func (*ThreePcKey) ProtoMessage()    {}

type LedgerInfo struct {
	LedgerId   uint32 `protobuf:"varint,1,opt,name=ledger_id,json=ledgerId,proto3" json:"ledger_id,omitempty"`
	Size       uint64 `protobuf:"varint,2,opt,name=size,proto3" json:"size,omitempty"`
	MerkleRoot []byte `protobuf:"bytes,3,opt,name=merkle_root,json=merkleRoot,proto3" json:"merkle_root,omitempty"`
}

func (m *LedgerInfo) Reset()         { *m = LedgerInfo{} }
func (m *LedgerInfo) String() string { return proto.CompactTextString(m) }
func (*LedgerInfo) ProtoMessage()    {}

type ViewChangeDone struct {
	ViewNo       uint64        `protobuf:"varint,1,opt,name=view_no,json=viewNo,proto3" json:"view_no,omitempty"`
	Name         string        `protobuf:"bytes,2,opt,name=name,proto3" json:"name,omitempty"`
	LedgerInfo   []*LedgerInfo `protobuf:"bytes,3,rep,name=ledger_info,json=ledgerInfo,proto3" json:"ledger_info,omitempty"`
	LastPrepared *ThreePcKey   `protobuf:"bytes,4,opt,name=last_prepared,json=lastPrepared,proto3" json:"last_prepared,omitempty"`
}

func (m *ViewChangeDone) Reset()         { *m = ViewChangeDone{} }
func (m *ViewChangeDone) String() string { return proto.CompactTextString(m) }
func (*ViewChangeDone) ProtoMessage()    {}

type FutureViewChangeDone struct {
	VcdMsg *ViewChangeDone `protobuf:"bytes,1,opt,name=vcd_msg,json=vcdMsg,proto3" json:"vcd_msg,omitempty"`
}

func (m *FutureViewChangeDone) Reset()         { *m = FutureViewChangeDone{} }
func (m *FutureViewChangeDone) String() string { return proto.CompactTextString(m) }
func (*FutureViewChangeDone) ProtoMessage()    {}

type MessageReq struct {
	MsgType string            `protobuf:"bytes,1,opt,name=msg_type,json=msgType,proto3" json:"msg_type,omitempty"`
	Params  map[string]string `protobuf:"bytes,2,rep,name=params,proto3" json:"params,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

func (m *MessageReq) Reset()         { *m = MessageReq{} }
func (m *MessageReq) String() string { return proto.CompactTextString(m) }
func (*MessageReq) ProtoMessage()    {}

type MessageRep struct {
	MsgType string            `protobuf:"bytes,1,opt,name=msg_type,json=msgType,proto3" json:"msg_type,omitempty"`
	Params  map[string]string `protobuf:"bytes,2,rep,name=params,proto3" json:"params,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
	Msg     []byte            `protobuf:"bytes,3,opt,name=msg,proto3" json:"msg,omitempty"`
}

func (m *MessageRep) Reset()         { *m = MessageRep{} }
func (m *MessageRep) String() string { return proto.CompactTextString(m) }
func (*MessageRep) ProtoMessage()    {}

// Msg is the outer envelope every instance-scoped wire message travels in,
// a protobuf oneof. The isMsg_Type marker matches the wrapper-type pattern
// protoc-gen-gogo emits for oneof fields (see the teacher's
// `pb.Msg_Preprepare{Preprepare: ...}` usage).
type Msg struct {
	// Types that are valid to be assigned to Type:
	//	*Msg_Propagate
	//	*Msg_PrePrepare
	//	*Msg_Prepare
	//	*Msg_Commit
	//	*Msg_Checkpoint
	//	*Msg_InstanceChange
	//	*Msg_ViewChangeDone
	//	*Msg_FutureViewChangeDone
	//	*Msg_MessageReq
	//	*Msg_MessageRep
	Type isMsg_Type `protobuf_oneof:"type"`
}

func (m *Msg) Reset()         { *m = Msg{} }
func (m *Msg) String() string { return proto.CompactTextString(m) }
func (*Msg) ProtoMessage()    {}

type isMsg_Type interface {
	isMsg_Type()
}

type Msg_Propagate struct {
	Propagate *Propagate `protobuf:"bytes,1,opt,name=propagate,proto3,oneof"`
}

type Msg_PrePrepare struct {
	PrePrepare *PrePrepare `protobuf:"bytes,2,opt,name=pre_prepare,json=prePrepare,proto3,oneof"`
}

type Msg_Prepare struct {
	Prepare *Prepare `protobuf:"bytes,3,opt,name=prepare,proto3,oneof"`
}

type Msg_Commit struct {
	Commit *Commit `protobuf:"bytes,4,opt,name=commit,proto3,oneof"`
}

type Msg_Checkpoint struct {
	Checkpoint *Checkpoint `protobuf:"bytes,5,opt,name=checkpoint,proto3,oneof"`
}

type Msg_InstanceChange struct {
	InstanceChange *InstanceChange `protobuf:"bytes,6,opt,name=instance_change,json=instanceChange,proto3,oneof"`
}

type Msg_ViewChangeDone struct {
	ViewChangeDone *ViewChangeDone `protobuf:"bytes,7,opt,name=view_change_done,json=viewChangeDone,proto3,oneof"`
}

type Msg_FutureViewChangeDone struct {
	FutureViewChangeDone *FutureViewChangeDone `protobuf:"bytes,8,opt,name=future_view_change_done,json=futureViewChangeDone,proto3,oneof"`
}

type Msg_MessageReq struct {
	MessageReq *MessageReq `protobuf:"bytes,9,opt,name=message_req,json=messageReq,proto3,oneof"`
}

type Msg_MessageRep struct {
	MessageRep *MessageRep `protobuf:"bytes,10,opt,name=message_rep,json=messageRep,proto3,oneof"`
}

func (*Msg_Propagate) isMsg_Type()            {}
func (*Msg_PrePrepare) isMsg_Type()           {}
func (*Msg_Prepare) isMsg_Type()              {}
func (*Msg_Commit) isMsg_Type()               {}
func (*Msg_Checkpoint) isMsg_Type()           {}
func (*Msg_InstanceChange) isMsg_Type()       {}
func (*Msg_ViewChangeDone) isMsg_Type()       {}
func (*Msg_FutureViewChangeDone) isMsg_Type() {}
func (*Msg_MessageReq) isMsg_Type()           {}
func (*Msg_MessageRep) isMsg_Type()           {}

// GetType is a convenience helper used by this module's dispatch code in
// stasher/validator/ordering, alongside the individual Get* accessors
// protoc-gen-gogo would also emit.
func (m *Msg) GetType() isMsg_Type {
	if m != nil {
		return m.Type
	}
	return nil
}

// XXX_OneofWrappers registers every Msg_* wrapper type with the
// reflection-based marshaler so proto.Marshal/Unmarshal can resolve the
// protobuf_oneof-tagged Type field, matching what protoc-gen-gogo emits
// for a oneof.
func (*Msg) XXX_OneofWrappers() []interface{} {
	return []interface{}{
		(*Msg_Propagate)(nil),
		(*Msg_PrePrepare)(nil),
		(*Msg_Prepare)(nil),
		(*Msg_Commit)(nil),
		(*Msg_Checkpoint)(nil),
		(*Msg_InstanceChange)(nil),
		(*Msg_ViewChangeDone)(nil),
		(*Msg_FutureViewChangeDone)(nil),
		(*Msg_MessageReq)(nil),
		(*Msg_MessageRep)(nil),
	}
}

func init() {
	proto.RegisterType((*TaaAcceptance)(nil), "rbftpb.TaaAcceptance")
	proto.RegisterType((*RequestData)(nil), "rbftpb.RequestData")
	proto.RegisterType((*Propagate)(nil), "rbftpb.Propagate")
	proto.RegisterType((*BlsMultiSig)(nil), "rbftpb.BlsMultiSig")
	proto.RegisterType((*BlsSig)(nil), "rbftpb.BlsSig")
	proto.RegisterType((*PrePrepare)(nil), "rbftpb.PrePrepare")
	proto.RegisterType((*Prepare)(nil), "rbftpb.Prepare")
	proto.RegisterType((*Commit)(nil), "rbftpb.Commit")
	proto.RegisterType((*Checkpoint)(nil), "rbftpb.Checkpoint")
	proto.RegisterType((*InstanceChange)(nil), "rbftpb.InstanceChange")
	proto.RegisterType((*ThreePcKey)(nil), "rbftpb.ThreePcKey")
	proto.RegisterType((*LedgerInfo)(nil), "rbftpb.LedgerInfo")
	proto.RegisterType((*ViewChangeDone)(nil), "rbftpb.ViewChangeDone")
	proto.RegisterType((*FutureViewChangeDone)(nil), "rbftpb.FutureViewChangeDone")
	proto.RegisterType((*MessageReq)(nil), "rbftpb.MessageReq")
	proto.RegisterType((*MessageRep)(nil), "rbftpb.MessageRep")
	proto.RegisterType((*Msg)(nil), "rbftpb.Msg")
}

// Marshal serializes m using the stable, length-prefixed protobuf wire
// encoding (field ordering is fixed by the tags above).
func Marshal(m proto.Message) ([]byte, error) {
	return proto.Marshal(m)
}

// Unmarshal parses wire bytes produced by Marshal back into m.
func Unmarshal(data []byte, m proto.Message) error {
	return proto.Unmarshal(data, m)
}

var _ = fmt.Sprintf
