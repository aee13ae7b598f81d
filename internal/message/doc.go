// Package message defines the inbound Request parsed from callback bodies and
// the Response replies handlers produce.
//
// Both directions use the platform's flat XML document:
//
//	<xml>
//	  <ToUserName><![CDATA[gh_123]]></ToUserName>
//	  <FromUserName><![CDATA[openid]]></FromUserName>
//	  <CreateTime>1348831860</CreateTime>
//	  <MsgType><![CDATA[text]]></MsgType>
//	  <Content><![CDATA[hello]]></Content>
//	  <MsgId>1234567890123456</MsgId>
//	</xml>
//
// Request.GetDuplicationKey is a pure function of the identity fields, so
// every redelivery of the same message maps to the same key.
package message
